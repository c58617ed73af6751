package conversation

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MaxSpeechRunes bounds how much of a reply is sent to a speech engine.
const MaxSpeechRunes = 1000

var markdown = goldmark.New()

// SanitizeForSpeech renders markdown to plain prose: markers, link targets,
// HTML and rules are dropped, whitespace is collapsed and the result is
// capped at MaxSpeechRunes on a word boundary.
func SanitizeForSpeech(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.HTMLBlock, *ast.RawHTML, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
					b.WriteByte(' ')
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		}
		if !entering && n.Type() == ast.TypeBlock {
			b.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})

	return capRunes(strings.Join(strings.Fields(b.String()), " "), MaxSpeechRunes)
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

var languageHints = []struct {
	lang  string
	chars string
}{
	{"yo-NG", "ẹọṣ"},
	{"ig-NG", "ịụṅ"},
	{"ha-NG", "ɓɗƙƴ"},
	{"pt-PT", "ãõ"},
	{"de-DE", "ßäöü"},
	{"fr-FR", "çèêœàâ"},
	{"es-ES", "¡¿ñéáíóú"},
}

// DetectLanguage guesses a BCP-47 tag from characteristic characters.
func DetectLanguage(s string) string {
	lower := strings.ToLower(s)
	for _, h := range languageHints {
		if strings.ContainsAny(lower, h.chars) {
			return h.lang
		}
	}
	return "en-US"
}

// Voice is a voice offered by a native speech engine.
type Voice struct {
	Name string
	Lang string
}

// PickVoice returns the first voice matching the tag's language, else the
// first voice. ok is false when there are no voices at all.
func PickVoice(voices []Voice, tag string) (v Voice, ok bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	prefix := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
	for _, v := range voices {
		if strings.HasPrefix(strings.ToLower(v.Lang), prefix) {
			return v, true
		}
	}
	return voices[0], true
}
