package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/restcall/internal/types"
)

// Output formats
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
	OutputBody = "body"
)

// ANSI color codes
const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
)

const highlightStyle = "monokai"

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// pickFormat resolves the output format: flag, then profile, then body when piped
func pickFormat(flag, profile string, tty bool) string {
	switch {
	case flag != "":
		return strings.ToLower(flag)
	case profile != "":
		return strings.ToLower(profile)
	case !tty:
		return OutputBody
	}
	return OutputText
}

// formatOutput formats the result based on the output format
func formatOutput(result *types.RequestResult, format string, showFull, color bool) (string, error) {
	switch format {
	case OutputJSON:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return "", err
		}
		return highlight(string(data)+"\n", "json", color), nil

	case OutputYAML:
		data, err := yaml.Marshal(result)
		if err != nil {
			return "", err
		}
		return highlight(string(data), "yaml", color), nil

	case OutputBody:
		if result.Body == "" {
			return "", nil
		}
		return highlight(prettyBody(result.Body)+"\n", bodyLexer(result), color), nil

	case OutputText:
		var sb strings.Builder

		status := result.StatusText
		if status == "" {
			status = "no response"
		}
		if color {
			fmt.Fprintf(&sb, "%s%s%s", getStatusColor(result.Status), status, colorReset)
		} else {
			sb.WriteString(status)
		}
		fmt.Fprintf(&sb, "  %s %s\n", result.Method, result.URL)
		fmt.Fprintf(&sb, "Duration: %s | Size: %s\n", formatDuration(result.Duration), formatSize(result.ResponseSize))

		if showFull && len(result.Headers) > 0 {
			sb.WriteString("\nHeaders:\n")
			names := make([]string, 0, len(result.Headers))
			for name := range result.Headers {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(&sb, "  %s: %s\n", name, result.Headers[name])
			}
		}

		if result.Body != "" {
			if showFull {
				sb.WriteString("\nBody:\n")
			} else {
				sb.WriteString("\n")
			}
			sb.WriteString(highlight(prettyBody(result.Body), bodyLexer(result), color))
			sb.WriteString("\n")
		}

		if result.Error != "" {
			if color {
				fmt.Fprintf(&sb, "\n%sError: %s%s\n", colorRed, result.Error, colorReset)
			} else {
				fmt.Fprintf(&sb, "\nError: %s\n", result.Error)
			}
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("unknown output format %q (use text, json, yaml or body)", format)
}

// writeResults writes every result, separated by a blank line in text mode
func writeResults(w io.Writer, results []*types.RequestResult, format string, showFull, color bool) error {
	for i, result := range results {
		out, err := formatOutput(result, format, showFull, color)
		if err != nil {
			return err
		}
		if i > 0 && format == OutputText {
			io.WriteString(w, "\n")
		}
		if _, err := io.WriteString(w, out); err != nil {
			return err
		}
	}
	return nil
}

// highlight colors source with chroma; the plain text is kept when coloring fails
func highlight(source, lexer string, color bool) string {
	if !color || lexer == "" {
		return source
	}
	var buf bytes.Buffer
	if err := quick.Highlight(&buf, source, lexer, "terminal256", highlightStyle); err != nil {
		return source
	}
	return buf.String()
}

func bodyLexer(result *types.RequestResult) string {
	contentType := strings.ToLower(result.Headers["Content-Type"])
	switch {
	case strings.Contains(contentType, "json"), json.Valid([]byte(result.Body)):
		return "json"
	case strings.Contains(contentType, "yaml"):
		return "yaml"
	case strings.Contains(contentType, "xml"):
		return "xml"
	case strings.Contains(contentType, "html"):
		return "html"
	}
	return ""
}

// prettyBody indents JSON bodies and leaves anything else untouched
func prettyBody(body string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(body), "", "  "); err != nil {
		return body
	}
	return buf.String()
}

func getStatusColor(status int) string {
	if status >= 200 && status < 300 {
		return colorGreen
	} else if status >= 400 || status == 0 {
		return colorRed
	}
	return colorYellow
}

// formatDuration formats duration in milliseconds to human-readable string
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.2fs", float64(ms)/1000.0)
}

// formatSize formats byte size to human-readable string
func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	if bytes < 1024*1024 {
		return fmt.Sprintf("%.2fKB", float64(bytes)/1024.0)
	}
	return fmt.Sprintf("%.2fMB", float64(bytes)/(1024.0*1024.0))
}
