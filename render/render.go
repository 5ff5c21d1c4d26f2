// Package render prints dialogue events as a terminal transcript.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/room4-2/realtimedialog/dialog"
	"github.com/room4-2/realtimedialog/protocol"
)

// Color palette.
var (
	userColor    = lipgloss.Color("#3B82F6") // Blue
	botColor     = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

type styles struct {
	user    lipgloss.Style
	bot     lipgloss.Style
	muted   lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	summary lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		user:    r.NewStyle().Bold(true).Foreground(userColor),
		bot:     r.NewStyle().Bold(true).Foreground(botColor),
		muted:   r.NewStyle().Foreground(mutedColor),
		warning: r.NewStyle().Foreground(warningColor),
		err:     r.NewStyle().Bold(true).Foreground(errorColor),
		summary: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1),
	}
}

// Renderer writes a transcript. Not safe for concurrent use.
type Renderer struct {
	out    io.Writer
	styles styles

	// Verbose also prints lifecycle events, TTS sentences and interim
	// recognition results.
	Verbose bool

	inReply bool
}

// New returns a Renderer writing to w. Colors follow w's terminal
// capabilities.
func New(w io.Writer) *Renderer {
	return &Renderer{out: w, styles: newStyles(lipgloss.NewRenderer(w))}
}

// Event renders one dialogue event.
func (r *Renderer) Event(ev dialog.Event) {
	if ev.Err != nil {
		r.endReply()
		r.line(r.styles.err.Render("error:") + " " + ev.Err.Error())
		return
	}
	if ev.Suspect && r.Verbose {
		r.line(r.styles.warning.Render(fmt.Sprintf("suspect frame %s", ev.ID)))
	}

	switch ev.ID {
	case protocol.EventASRResponse:
		var resp dialog.ASRResponse
		if ev.Decode(&resp) != nil {
			return
		}
		for _, res := range resp.Results {
			if res.Text == "" {
				continue
			}
			if res.IsInterim {
				if r.Verbose {
					r.line(r.styles.muted.Render("… " + res.Text))
				}
				continue
			}
			r.endReply()
			r.line(r.styles.user.Render("You:") + " " + res.Text)
		}

	case protocol.EventChatResponse:
		text, ok := ev.Text()
		if !ok {
			return
		}
		if !r.inReply {
			fmt.Fprint(r.out, r.styles.bot.Render("Assistant:")+" ")
			r.inReply = true
		}
		fmt.Fprint(r.out, text)

	case protocol.EventChatEnded:
		r.endReply()

	case protocol.EventTTSSentenceStart:
		if text, ok := ev.Text(); ok && r.Verbose {
			r.endReply()
			r.line(r.styles.muted.Render("♪ " + text))
		}

	case protocol.EventTTSResponse:
		// audio goes to playback

	default:
		if r.Verbose {
			r.endReply()
			r.line(r.styles.muted.Render(describe(ev)))
		}
	}
}

// State renders a state change in verbose mode.
func (r *Renderer) State(st dialog.State) {
	if !r.Verbose {
		return
	}
	r.endReply()
	style := r.styles.muted
	if st == dialog.StateFailed {
		style = r.styles.err
	}
	r.line(style.Render("state " + st.String()))
}

// Summary describes a finished conversation.
type Summary struct {
	SessionID  string
	Rounds     uint64
	AudioBytes int
	SampleRate int
	Output     string
	Err        error
}

// Summary renders a boxed end-of-session report.
func (r *Renderer) Summary(s Summary) {
	r.endReply()
	lines := []string{
		"session  " + s.SessionID,
		fmt.Sprintf("rounds   %d", s.Rounds),
	}
	if s.AudioBytes > 0 && s.SampleRate > 0 {
		seconds := float64(s.AudioBytes) / 2 / float64(s.SampleRate)
		lines = append(lines, fmt.Sprintf("audio    %d bytes (%.1fs)", s.AudioBytes, seconds))
	}
	if s.Output != "" {
		lines = append(lines, "output   "+s.Output)
	}
	if s.Err != nil {
		lines = append(lines, r.styles.err.Render("error    "+s.Err.Error()))
	}
	r.line(r.styles.summary.Render(strings.Join(lines, "\n")))
}

func (r *Renderer) endReply() {
	if r.inReply {
		fmt.Fprintln(r.out)
		r.inReply = false
	}
}

func (r *Renderer) line(s string) {
	fmt.Fprintln(r.out, s)
}

func describe(ev dialog.Event) string {
	if !ev.HasID {
		return fmt.Sprintf("frame without event (%d bytes)", len(ev.Raw))
	}
	switch ev.ID {
	case protocol.EventSessionStarted:
		var p dialog.SessionStarted
		if ev.Decode(&p) == nil && p.DialogID != "" {
			return "session started, dialog " + p.DialogID
		}
	case protocol.EventASRInfo:
		var p dialog.ASRInfo
		if ev.Decode(&p) == nil && p.QuestionID != "" {
			return "speech detected, question " + p.QuestionID
		}
	case protocol.EventUsageResponse:
		var p dialog.UsageResponse
		if ev.Decode(&p) == nil && len(p.Usage) > 0 {
			return fmt.Sprintf("usage %v", p.Usage)
		}
	}
	if !ev.Recognized() {
		return fmt.Sprintf("unrecognized %s", ev.ID)
	}
	return ev.ID.String()
}
