package runner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/providers"
)

// extractError classifies a per-format extraction failure for the SSE
// error payload.
type extractError struct {
	Code    string
	Message string
}

func (e *extractError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// extractFormat pulls one format's text out of the agent result and
// validates it against the format's expected shape. Only the blog path gets
// the JSON repair pass; other formats fail outright on malformed output.
func extractFormat(res *providers.AgentResult, kind models.ContentKind) (string, error) {
	text := ""
	if res.Sections != nil {
		text = strings.TrimSpace(res.Sections[kind])
	}
	if text == "" && kind == models.KindBlog {
		// The blog draft seeds everything else; when the runtime does not
		// separate sections the raw output is the blog.
		text = strings.TrimSpace(res.Raw)
	}
	if text == "" {
		return "", &extractError{Code: "empty_content", Message: fmt.Sprintf("agent produced no %s content", kind)}
	}

	switch kind {
	case models.KindBlog:
		return validateBlog(text)
	case models.KindSocial:
		return validateSocial(text)
	case models.KindAudio:
		return validateAudio(text)
	case models.KindVideo:
		return validateVideo(text)
	}
	return text, nil
}

// validateBlog checks blog output against the expected JSON shape and
// normalizes it. Non-JSON output is accepted as-is (older prompt versions
// emitted plain markdown); malformed JSON gets one repair pass before
// failing.
func validateBlog(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	doc, err := parseBlogJSON(trimmed)
	if err != nil {
		repaired := repairJSON(trimmed)
		doc, err = parseBlogJSON(repaired)
		if err != nil {
			return "", &extractError{Code: "extraction_failed", Message: "blog output is not valid JSON after repair"}
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", &extractError{Code: "extraction_failed", Message: "failed to normalize blog output"}
	}
	return string(out), nil
}

// validateSocial checks social output: JSON must parse cleanly into a post
// list. Plain text is accepted as a single ready-to-publish post.
func validateSocial(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return trimmed, nil
	}

	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return "", &extractError{Code: "extraction_failed", Message: "social output is not valid JSON"}
	}
	switch v := doc.(type) {
	case []any:
		out, err := json.Marshal(map[string]any{"posts": v})
		if err != nil {
			return "", &extractError{Code: "extraction_failed", Message: "failed to normalize social output"}
		}
		return string(out), nil
	case map[string]any:
		if _, ok := v["posts"].([]any); !ok {
			return "", &extractError{Code: "extraction_failed", Message: "social output has no posts list"}
		}
		out, err := json.Marshal(v)
		if err != nil {
			return "", &extractError{Code: "extraction_failed", Message: "failed to normalize social output"}
		}
		return string(out), nil
	default:
		return "", &extractError{Code: "extraction_failed", Message: "social output has no posts list"}
	}
}

// validateAudio checks the narration script: JSON-shaped output must parse
// cleanly; plain text narration passes through.
func validateAudio(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return "", &extractError{Code: "extraction_failed", Message: "audio script is not valid JSON"}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", &extractError{Code: "extraction_failed", Message: "failed to normalize audio script"}
	}
	return string(out), nil
}

// validateVideo checks the render script: the renderer consumes it verbatim,
// so it must be a JSON document with a non-empty scene list.
func validateVideo(text string) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &doc); err != nil {
		return "", &extractError{Code: "extraction_failed", Message: "video script is not a valid scene document"}
	}
	scenes, ok := doc["scenes"].([]any)
	if !ok || len(scenes) == 0 {
		return "", &extractError{Code: "extraction_failed", Message: "video script has no scenes"}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", &extractError{Code: "extraction_failed", Message: "failed to normalize video script"}
	}
	return string(out), nil
}

func parseBlogJSON(text string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, err
	}
	// Sections emitted as an object keyed by heading get flattened into the
	// expected single string.
	if sections, ok := doc["sections"].(map[string]any); ok {
		keys := make([]string, 0, len(sections))
		for k := range sections {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			if s, ok := sections[k].(string); ok {
				if b.Len() > 0 {
					b.WriteString("\n\n")
				}
				b.WriteString(s)
			}
		}
		doc["sections"] = b.String()
	}
	return doc, nil
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// repairJSON rewrites the malformed constructs language models commonly
// emit: trailing commas, single-quoted strings and unquoted keys.
func repairJSON(text string) string {
	out := trailingCommaRe.ReplaceAllString(text, "$1")
	out = unquotedKeyRe.ReplaceAllString(out, `$1"$2":`)
	out = replaceSingleQuotes(out)
	return out
}

// replaceSingleQuotes converts single-quoted JSON strings to double-quoted,
// leaving apostrophes inside double-quoted strings alone.
func replaceSingleQuotes(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inDouble := false
	inSingle := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && i+1 < len(text):
			b.WriteByte(c)
			i++
			b.WriteByte(text[i])
		case c == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteByte(c)
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// chunkSize adapts streaming granularity to total content length.
func chunkSize(totalLen int) int {
	switch {
	case totalLen <= 2048:
		return 200
	case totalLen <= 5120:
		return 500
	default:
		return 1024
	}
}

// chunkText splits text into chunks of the adaptive size.
func chunkText(text string) []string {
	size := chunkSize(len(text))
	chunks := make([]string, 0, len(text)/size+1)
	for start := 0; start < len(text); start += size {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}
