// Package ui renders the HTML pages for the stash browser. Pages are built
// as templ components so handlers can compose and stream them directly.
package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"

	"github.com/a-h/templ"
)

// Bucket represents a single bucket for display.
type Bucket struct {
	Name    string
	Created string
}

// Object represents a single object within a bucket for display.
type Object struct {
	Key          string
	Size         int64
	LastModified string
}

// htmlWriter wraps an io.Writer and remembers the first write error so page
// builders can chain writes without checking every call.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (hw *htmlWriter) raw(s string) {
	if hw.err != nil {
		return
	}
	_, hw.err = io.WriteString(hw.w, s)
}

func (hw *htmlWriter) text(s string) {
	hw.raw(html.EscapeString(s))
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}

		hw.raw("<!DOCTYPE html><html lang=\"en\"><head>")
		hw.raw("<meta charset=\"utf-8\">")
		hw.raw("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		hw.raw("<title>")
		hw.text(title)
		hw.raw("</title>")
		// Minimal modern CSS framework (Pico.css) via CDN.
		hw.raw("<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		// HTMX via CDN.
		hw.raw("<script src=\"https://unpkg.com/htmx.org@1.9.12\" integrity=\"sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M\" crossorigin=\"anonymous\"></script>")
		hw.raw("</head>")

		// Global htmx boost for links and forms.
		hw.raw("<body hx-boost=\"true\"><main class=\"container\">")
		if hw.err != nil {
			return hw.err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		hw.raw("</main></body></html>")
		return hw.err
	})
}

// BucketsPage renders the list of buckets plus a create-bucket form.
func BucketsPage(buckets []Bucket) templ.Component {
	return Layout("Stash Browser - Buckets", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}

		hw.raw("<section><header><h1>Stash Buckets</h1>")
		hw.raw("<p>Browse buckets and objects served by the S3-compatible API.</p></header>")

		if len(buckets) == 0 {
			hw.raw("<p>No buckets found.</p>")
		} else {
			hw.raw("<table><thead><tr><th>Name</th><th>Created</th></tr></thead><tbody>")
			for _, b := range buckets {
				hw.raw("<tr><td><a href=\"/bucket/")
				hw.raw(url.PathEscape(b.Name))
				hw.raw("\">")
				hw.text(b.Name)
				hw.raw("</a></td><td>")
				hw.text(b.Created)
				hw.raw("</td></tr>")
			}
			hw.raw("</tbody></table>")
		}

		hw.raw("<form method=\"post\" action=\"/buckets\">")
		hw.raw("<fieldset role=\"group\">")
		hw.raw("<input type=\"text\" name=\"name\" placeholder=\"new-bucket-name\" required>")
		hw.raw("<button type=\"submit\">Create bucket</button>")
		hw.raw("</fieldset></form>")

		hw.raw("</section>")
		return hw.err
	}))
}

// ObjectsPage renders the flat object listing for a single bucket.
func ObjectsPage(bucket string, objects []Object) templ.Component {
	return Layout("Stash Browser - "+bucket, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}

		hw.raw("<section><header><h1>Bucket: ")
		hw.text(bucket)
		hw.raw("</h1>")
		hw.raw(fmt.Sprintf("<p>%d object(s)</p>", len(objects)))
		hw.raw("<p><a href=\"/\">&larr; Back to buckets</a></p></header>")

		if len(objects) == 0 {
			hw.raw("<p>No objects in this bucket.</p></section>")
			return hw.err
		}

		hw.raw("<table><thead><tr><th>Key</th><th>Size (bytes)</th><th>Last Modified</th></tr></thead><tbody>")
		for _, o := range objects {
			hw.raw("<tr><td>")
			hw.text(o.Key)
			hw.raw(fmt.Sprintf("</td><td>%d</td><td>", o.Size))
			hw.text(o.LastModified)
			hw.raw("</td></tr>")
		}
		hw.raw("</tbody></table></section>")
		return hw.err
	}))
}
