package handle

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"card-ledger/api/internal/card"
	"card-ledger/api/internal/ledger"
	"card-ledger/api/internal/workflow"
)

var fieldLabels = ledger.Header[1 : 1+len(card.Fields)]

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="zh-Hant">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>AI 名片掃描器</title>
</head>
<body>
<h1>AI 名片掃描器</h1>
{{with .Result}}
<section class="result {{.Status}}">
  <p>{{.Message}}</p>
  {{if .Fields}}
  <table>
    {{range .Fields}}<tr><th>{{.Label}}</th><td>{{.Value}}</td></tr>
    {{end}}
  </table>
  {{end}}
  {{if .Link}}<p><a href="{{.Link}}" target="_blank" rel="noopener">名片連結</a></p>{{end}}
</section>
{{end}}
<form id="card-form-{{.Round}}" method="post" action="/" enctype="multipart/form-data">
  <input type="hidden" name="round" value="{{.Round}}">
  <p><label>步驟 1：拍攝或上傳名片 <input type="file" name="image" accept="image/jpeg,image/png" capture="environment"></label></p>
  <p><label>步驟 2：新增備註 <input type="text" name="note" value="{{.Note}}" placeholder="例：展覽認識的客戶..."></label></p>
  <p><button type="submit">開始辨識並存檔</button></p>
</form>
</body>
</html>
`))

type field struct {
	Label string
	Value string
}

type pageResult struct {
	Status  string
	Message string
	Link    string
	Fields  []field
}

type pageData struct {
	// Round changes after every successful submission so the browser renders
	// fresh, empty inputs.
	Round  int
	Note   string
	Result *pageResult
}

// Page handles GET /.
func (h *Handle) Page(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, pageData{})
}

// PageSubmit handles POST / from the form.
func (h *Handle) PageSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := h.readMultipart(w, r)
	if err != nil {
		code := http.StatusBadRequest
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			code = http.StatusRequestEntityTooLarge
		}
		h.render(w, code, pageData{Result: &pageResult{Status: "error", Message: err.Error()}})
		return
	}
	sub.Source = "web"
	round, _ := strconv.Atoi(r.FormValue("round"))

	out := h.submit(r, sub)
	data := pageData{Round: round, Note: sub.Note, Result: newPageResult(out)}
	if out.Status == workflow.StatusSuccess {
		data.Round++
		data.Note = ""
	}
	h.render(w, StatusCode(out.Status), data)
}

func newPageResult(out workflow.Outcome) *pageResult {
	res := &pageResult{Status: string(out.Status), Message: out.Message(), Link: out.Link}
	if out.Status == workflow.StatusSuccess || out.Status == workflow.StatusWriteFailed {
		for i, v := range out.Record.Values() {
			res.Fields = append(res.Fields, field{Label: fieldLabels[i], Value: v})
		}
	}
	return res
}

func (h *Handle) render(w http.ResponseWriter, code int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := pageTmpl.Execute(w, data); err != nil {
		h.log.WithError(err).Error("render page failed")
	}
}
