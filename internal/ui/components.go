package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"

	"github.com/a-h/templ"
)

// Image is a single gallery entry.
type Image struct {
	Name        string
	Extension   string
	SizeBytes   int64
	LastUpdated string
}

// Page describes which slice of the gallery is shown.
type Page struct {
	Number  int
	HasPrev bool
	HasNext bool
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<title>"+html.EscapeString(title)+"</title>")
		if err != nil {
			return err
		}
		// Pico.css via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head>")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<body><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

func imagePath(name string) string {
	return "/images/" + url.PathEscape(name)
}

// GalleryPage renders one page of stored images as a grid of thumbnails
// linking to their downloads and metadata.
func GalleryPage(images []Image, page Page) templ.Component {
	return Layout("pixvault - Gallery", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Gallery</h1>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<p>Upload images with <code>POST /images</code>.</p></header>")
		if err != nil {
			return err
		}

		if len(images) == 0 {
			_, err = io.WriteString(w, "<p>No images yet.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<div class=\"grid\">")
		if err != nil {
			return err
		}

		for _, img := range images {
			href := html.EscapeString(imagePath(img.Name))
			name := html.EscapeString(img.Name)
			card := fmt.Sprintf(
				"<article><img src=\"%s\" alt=\"%s\" loading=\"lazy\"><footer><a href=\"%s/metadata\">%s</a> <small>%s, %d bytes, %s</small></footer></article>",
				href, name, href, name, html.EscapeString(img.Extension), img.SizeBytes, html.EscapeString(img.LastUpdated),
			)
			_, err = io.WriteString(w, card)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</div><nav><ul>")
		if err != nil {
			return err
		}
		if page.HasPrev {
			_, err = fmt.Fprintf(w, "<li><a href=\"/gallery?page=%d\">&larr; Previous</a></li>", page.Number-1)
			if err != nil {
				return err
			}
		}
		if page.HasNext {
			_, err = fmt.Fprintf(w, "<li><a href=\"/gallery?page=%d\">Next &rarr;</a></li>", page.Number+1)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</ul></nav></section>")
		return err
	}))
}
