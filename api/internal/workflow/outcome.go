package workflow

import (
	"github.com/google/uuid"

	"card-ledger/api/internal/card"
	"card-ledger/api/internal/extract"
	"card-ledger/api/internal/ledger"
)

// Status is the terminal result of a submission.
type Status string

const (
	StatusNoImage          Status = "no_image"
	StatusQuotaExceeded    Status = "quota_exceeded"
	StatusExtractionFailed Status = "extraction_failed"
	StatusWriteFailed      Status = "write_failed"
	StatusSuccess          Status = "success"
)

// KindLedger is the ErrorKind of a failed ledger write.
const KindLedger = "ledger"

// Outcome reports what happened to one submission. Err is set for the failure
// statuses; ArchiveErr is set when the photo could not be archived but the row
// was still written.
type Outcome struct {
	ID         uuid.UUID
	Status     Status
	Record     card.Record
	FileName   string
	Link       string
	ArchiveErr error
	Err        error
	ErrorKind  string
	Row        ledger.Row
}

var kindText = map[extract.Kind]string{
	extract.KindInvalidImage:  "圖片格式無法辨識",
	extract.KindAuth:          "API 金鑰無效或沒有權限",
	extract.KindBadRequest:    "請求被拒絕",
	extract.KindBadResponse:   "AI 回傳格式錯誤",
	extract.KindEmptyResponse: "AI 未回傳任何內容",
	extract.KindNetwork:       "網路連線失敗",
	extract.KindTimeout:       "連線逾時",
	extract.KindUnavailable:   "服務暫時無法使用",
	extract.KindUnknown:       "未知錯誤",
}

// Message is the text shown to the user.
func (o Outcome) Message() string {
	switch o.Status {
	case StatusNoImage:
		return "請先拍攝或上傳名片照片"
	case StatusQuotaExceeded:
		return "免費版額度已用完 (HTTP 429)，請稍後再試！"
	case StatusExtractionFailed:
		msg := "AI 系統錯誤"
		if t, ok := kindText[extract.Kind(o.ErrorKind)]; ok {
			msg += "（" + t + "）"
		}
		if o.Err != nil {
			msg += ": " + o.Err.Error()
		}
		return msg
	case StatusWriteFailed:
		msg := "資料庫連線失敗"
		if o.Err != nil {
			msg += ": " + o.Err.Error()
		}
		return msg
	case StatusSuccess:
		msg := "辨識成功！資料已寫入試算表"
		switch {
		case o.FileName == "":
		case o.ArchiveErr != nil:
			msg += "，但照片上傳失敗（" + o.FileName + "）"
		default:
			msg += "，照片檔名：" + o.FileName
		}
		return msg
	default:
		return string(o.Status)
	}
}
