// Package archive stores the original card photo and returns a durable link.
package archive

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultPrefix starts every archived file name.
const DefaultPrefix = "名片_"

// Unnamed replaces an empty Chinese name in file names.
const Unnamed = "未命名"

var ErrEmptyName = errors.New("archive: file name must not be empty")

// Reference points to an archived photo.
type Reference struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

// Archiver uploads a photo under name.
type Archiver interface {
	Upload(ctx context.Context, name string, image []byte) (Reference, error)
}

// FileName builds "<prefix><name>_<YYYYMMDD_HHMMSS>.jpg".
func FileName(prefix, chineseName string, at time.Time) string {
	name := sanitize(chineseName)
	if name == "" {
		name = Unnamed
	}
	return prefix + name + "_" + at.Format("20060102_150405") + ".jpg"
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
