// Package inject rewrites HTML documents before they are served.
//
// Insertion is textual: the document is searched for a marker and the
// snippet spliced in, with every other byte preserved. Nothing here parses
// HTML, so a structured rewriter can replace FrameLink behind Injector
// without the site handler noticing.
package inject

import (
	"fmt"
	"html/template"
	"strings"
)

// Injector transforms a full HTML document.
type Injector interface {
	Inject(doc string) string
}

type nop struct{}

func (nop) Inject(doc string) string { return doc }

// Nop returns documents unchanged.
var Nop Injector = nop{}

// FrameLink adds a script that, when the page is rendered inside a frame,
// pins a link back to URL in the bottom-right corner.
//
// Injecting an already injected document adds a second script.
type FrameLink struct {
	URL   string
	Label string
}

// Snippet is the exact text FrameLink inserts.
func (f FrameLink) Snippet() string {
	return fmt.Sprintf(frameLinkScript,
		template.JSEscapeString(f.URL),
		template.JSEscapeString(f.Label),
	)
}

// Inject places the snippet before the first "</head>", else right after
// the first "<body>", else at the very start. Marker matching is exact and
// case-sensitive.
func (f FrameLink) Inject(doc string) string {
	return insert(doc, f.Snippet())
}

func insert(doc, snippet string) string {
	if i := strings.Index(doc, "</head>"); i >= 0 {
		return doc[:i] + snippet + doc[i:]
	}
	if i := strings.Index(doc, "<body>"); i >= 0 {
		i += len("<body>")
		return doc[:i] + snippet + doc[i:]
	}
	return snippet + doc
}

const frameLinkScript = `
<script>
document.addEventListener('DOMContentLoaded', function() {
  if (window.self !== window.top) {
    var a = document.createElement('a');
    a.href = '%s';
    a.textContent = '%s';
    a.target = '_blank';
    a.style.position = 'fixed';
    a.style.bottom = '10px';
    a.style.right = '10px';
    a.style.padding = '5px 10px';
    a.style.backgroundColor = '#007bff';
    a.style.color = 'white';
    a.style.textDecoration = 'none';
    a.style.borderRadius = '5px';
    a.style.fontFamily = 'Arial, sans-serif';
    a.style.fontSize = '14px';
    a.style.zIndex = '9999';
    document.body.appendChild(a);
  }
});
</script>
`
