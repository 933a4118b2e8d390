package compare

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/template"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var markdownTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"score": func(f float64) string { return fmt.Sprintf("%.4f", f) },
	"pct":   func(f float64) string { return fmt.Sprintf("%.1f%%", f*100) },
}).Parse(`# Satellite to Map Transformation Results

| Aerial Photo | Generated Map | SSIM Score | Status |
|:---:|:---:|:---:|:---|
{{- range .Rows}}
| <img src="{{.Original}}" width="300"> | <img src="{{.Styled}}" width="300"> | {{score .SSIMScore}} | {{if .TransformationSuccess}}✅ **SUCCESS**<br>SSIM: {{score .SSIMScore}}{{else}}❌ **FAILED**<br>Too similar to input<br>SSIM: {{score .SSIMScore}}{{end}} |
{{- end}}

**{{.Summary.SuccessfulTransformations}} of {{.Summary.TotalTiles}}** transformed ({{pct .Summary.SuccessRate}}), average SSIM {{score .Summary.AverageSSIM}}, threshold {{score .Summary.SSIMThreshold}}.

---

### Legend
- ✅ **SUCCESS**: Image successfully transformed (SSIM < threshold)
- ❌ **FAILED**: Generated image too similar to input (transformation did not occur)
- **SSIM Score**: Structural Similarity Index (0-1, higher = more similar)
`))

type markdownData struct {
	Rows    []PairResult
	Summary Summary
}

// WriteMarkdown renders the report as a table of image pairs. Image sources
// are the file names joined to imageDir, so the report can sit next to the tiles.
func WriteMarkdown(w io.Writer, r *Report, imageDir string) error {
	rows := make([]PairResult, len(r.Tiles))
	for i, t := range r.Tiles {
		t.Original = filepath.ToSlash(filepath.Join(imageDir, filepath.Base(t.Original)))
		t.Styled = filepath.ToSlash(filepath.Join(imageDir, filepath.Base(t.Styled)))
		rows[i] = t
	}
	return markdownTemplate.Execute(w, markdownData{Rows: rows, Summary: r.Summary})
}
