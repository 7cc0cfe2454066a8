// cmd/monitor/main.go
// monitor is a bubbletea TUI dashboard polling the station's diagnostics
// gRPC service once per second, grounded on the teacher's
// internal/cli/ui/ui.go (bubbletea Model/Update/View, lipgloss styling,
// tea.Tick-driven periodic refresh).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var addr = flag.String("addr", "127.0.0.1:8889", "dccstation diagnostics gRPC address")

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Bold(true).Padding(0, 1)

	okStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399"))

	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

type snapshotMsg map[string]interface{}
type errMsg error

type model struct {
	conn    *grpc.ClientConn
	snap    map[string]interface{}
	err     error
	spinner spinner.Model
}

func newModel(conn *grpc.ClientConn) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = okStyle
	return model{conn: conn, spinner: s}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.spinner.Tick)
}

func (m model) poll() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var out structpb.Struct
		err := m.conn.Invoke(ctx, "/dccstation.Diagnostics/GetDiagnostics", &emptypb.Empty{}, &out)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(out.AsMap())
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case snapshotMsg:
		m.snap = msg
		m.err = nil
		return m, m.poll()
	case errMsg:
		m.err = msg
		return m, m.poll()
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m model) View() string {
	header := headerStyle.Render("DCC TEST STATION MONITOR")
	if m.err != nil {
		return fmt.Sprintf("%s\n\n%s\n\n%s", header, stoppedStyle.Render("connection error: "+m.err.Error()), helpStyle.Render("q: quit"))
	}
	if m.snap == nil {
		return fmt.Sprintf("%s\n\n%s connecting...", header, m.spinner.View())
	}

	statusLine := func(label string, running interface{}) string {
		up, _ := running.(bool)
		if up {
			return label + ": " + okStyle.Render("RUNNING")
		}
		return label + ": " + stoppedStyle.Render("STOPPED")
	}

	body := fmt.Sprintf(
		"%s\n%s\n\npackets decoded: %v\nframing errors:  %v\ncrc drops:       %v\nreboots:         %v\ncpu:             %.1f%%\nmem:             %.1f%%\nuptime:          %.0fs",
		statusLine("command station", m.snap["cs_running"]),
		statusLine("decoder        ", m.snap["decoder_running"]),
		m.snap["packets_decoded"], m.snap["framing_errors"], m.snap["crc_drops"], m.snap["reboots"],
		asFloat(m.snap["cpu_percent"]), asFloat(m.snap["mem_used_pct"]), asFloat(m.snap["uptime_sec"]),
	)

	return fmt.Sprintf("%s\n\n%s\n\n%s", header, panelStyle.Render(body), helpStyle.Render("q: quit"))
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func main() {
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	p := tea.NewProgram(newModel(conn))
	if _, err := p.Run(); err != nil {
		log.Fatalf("monitor: %v", err)
	}
}
