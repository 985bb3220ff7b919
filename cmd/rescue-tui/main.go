package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/shubham/diskrescue/internal/carver"
	"github.com/shubham/diskrescue/internal/device"
	"github.com/shubham/diskrescue/internal/disk"
	"github.com/shubham/diskrescue/internal/ntfs"
)

// Palette: ANSI-256 codes so the TUI degrades sanely on 256-color
// terminals.
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("25")).Padding(0, 2)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	accentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	dangerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78"))
)

// State identifies the current screen.
type State int

const (
	StateWelcome State = iota
	StateSelectSource
	StateSelectDevice
	StateEnterPath
	StateSelectMode
	StateSelectOutput
	StateConfirm
	StateRunning
	StateResults
)

// RescueMode selects the recovery strategy.
type RescueMode int

const (
	ModeCarve RescueMode = iota
	ModeNTFSScan
	ModeNTFSRecover
)

func (mo RescueMode) label() string {
	switch mo {
	case ModeNTFSScan:
		return "ntfs scan"
	case ModeNTFSRecover:
		return "ntfs recover"
	default:
		return "carving"
	}
}

// pickItem is the one list entry type behind both the source and strategy
// pickers; tag carries the source selection and mode the strategy.
type pickItem struct {
	title string
	desc  string
	tag   string
	mode  RescueMode
}

func (i pickItem) Title() string       { return i.title }
func (i pickItem) Description() string { return i.desc }
func (i pickItem) FilterValue() string { return i.title }

type deviceItem struct {
	device device.Device
}

func (i deviceItem) Title() string { return i.device.Path }
func (i deviceItem) Description() string {
	desc := i.device.SizeHuman
	if i.device.Filesystem != "" {
		desc += " · " + i.device.Filesystem
	}
	if i.device.Mountpoint != "" {
		desc += " · mounted at " + i.device.Mountpoint
	}
	return desc
}
func (i deviceItem) FilterValue() string { return i.device.Path }

type model struct {
	state  State
	width  int
	height int
	err    error

	sourceList list.Model

	devices    []device.Device
	deviceList list.Model

	pathInput textinput.Model
	imagePath string

	mode     RescueMode
	modeList list.Model

	outputInput textinput.Model
	outputPath  string

	spinner   spinner.Model
	statusMsg string

	carved    []carver.CarvedFile
	deleted   []ntfs.DeletedEntry
	extracted int
}

// Messages
type devicesLoadedMsg struct {
	devices []device.Device
	err     error
}

type rescueCompleteMsg struct {
	carved    []carver.CarvedFile
	deleted   []ntfs.DeletedEntry
	extracted int
	err       error
}

func newPicker(title string, items []list.Item) list.Model {
	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	return l
}

func newInput(placeholder, value string) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.SetValue(value)
	in.Width = 50
	return in
}

func initialModel() model {
	sourceList := newPicker("Scan source", []list.Item{
		pickItem{title: "Block device", desc: "An attached drive (USB stick, HDD, SSD)", tag: "device"},
		pickItem{title: "Image file", desc: "A raw dump: .img, .dd, .raw", tag: "image"},
	})

	modeList := newPicker("Recovery strategy", []list.Item{
		pickItem{title: "Signature carving", desc: "Hunt the raw bytes for known file headers", mode: ModeCarve},
		pickItem{title: "NTFS scan", desc: "List deleted entries from MFT metadata", mode: ModeNTFSScan},
		pickItem{title: "NTFS recover", desc: "Extract deleted content through data runs", mode: ModeNTFSRecover},
	})

	pathInput := newInput("/path/to/disk.img", "")
	pathInput.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = accentStyle

	return model{
		state:       StateWelcome,
		sourceList:  sourceList,
		modeList:    modeList,
		pathInput:   pathInput,
		outputInput: newInput("./recovered", "./recovered"),
		spinner:     s,
		outputPath:  "./recovered",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
	)
}

// Update splits message handling three ways: global keys go through
// handleKey, lifecycle messages are dealt with inline, and anything left
// is routed to whichever widget the current screen owns.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case devicesLoadedMsg:
		return m.showDevices(msg)

	case rescueCompleteMsg:
		m.state = StateResults
		m.carved, m.deleted = msg.carved, msg.deleted
		m.extracted, m.err = msg.extracted, msg.err
		return m, nil
	}

	return m.route(msg)
}

// resize fits every instantiated list to the window.
func (m *model) resize() {
	w, h := m.width-4, m.height-10
	m.sourceList.SetSize(w, h)
	m.modeList.SetSize(w, h)
	if m.deviceList.Items() != nil {
		m.deviceList.SetSize(w, h)
	}
}

func (m model) showDevices(msg devicesLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.err = msg.err
		return m, nil
	}
	items := make([]list.Item, len(msg.devices))
	for i, d := range msg.devices {
		items[i] = deviceItem{device: d}
	}
	m.devices = msg.devices
	m.deviceList = newPicker("Pick a device", items)
	m.deviceList.SetFilteringEnabled(true)
	m.deviceList.SetSize(m.width-4, m.height-10)
	m.state = StateSelectDevice
	return m, nil
}

// handleKey owns the global key map. Keys with no global meaning on the
// current screen fall through to its widget.
func (m model) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	typing := m.state == StateEnterPath || m.state == StateSelectOutput

	switch key.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "q":
		if !typing && m.state != StateRunning {
			return m, tea.Quit
		}

	case "esc":
		if m.state > StateWelcome && m.state != StateRunning {
			src, _ := m.sourceList.SelectedItem().(pickItem)
			switch {
			case m.state == StateEnterPath:
				m.state = StateSelectSource
			case m.state == StateSelectMode && src.tag == "device":
				m.state = StateSelectDevice
			default:
				m.state--
			}
			return m, nil
		}

	case "enter":
		return m.advance()

	case "y", "Y":
		if m.state == StateConfirm {
			return m.begin()
		}

	case "n", "N":
		if m.state == StateConfirm {
			m.state = StateSelectSource
			return m, nil
		}

	case "r":
		if m.state == StateResults {
			return initialModel(), nil
		}
	}

	return m.route(key)
}

// advance is what enter means on each screen.
func (m model) advance() (tea.Model, tea.Cmd) {
	switch m.state {
	case StateWelcome:
		m.state = StateSelectSource

	case StateSelectSource:
		if it, ok := m.sourceList.SelectedItem().(pickItem); ok {
			if it.tag == "device" {
				return m, loadDevices
			}
			m.state = StateEnterPath
			m.pathInput.Focus()
		}

	case StateSelectDevice:
		if it, ok := m.deviceList.SelectedItem().(deviceItem); ok {
			m.imagePath = it.device.Path
			m.state = StateSelectMode
		}

	case StateEnterPath:
		if path := expandHome(m.pathInput.Value()); path != "" {
			m.imagePath = path
			m.state = StateSelectMode
		}

	case StateSelectMode:
		if it, ok := m.modeList.SelectedItem().(pickItem); ok {
			m.mode = it.mode
			if m.mode == ModeNTFSScan {
				m.state = StateConfirm
			} else {
				m.state = StateSelectOutput
				m.outputInput.Focus()
			}
		}

	case StateSelectOutput:
		if path := expandHome(m.outputInput.Value()); path != "" {
			m.outputPath = path
			m.state = StateConfirm
		}

	case StateConfirm:
		return m.begin()

	case StateResults:
		return m, tea.Quit
	}

	return m, nil
}

func (m model) begin() (tea.Model, tea.Cmd) {
	m.state = StateRunning
	m.statusMsg = "Scanning " + m.imagePath
	return m, tea.Batch(m.spinner.Tick, m.runRescue())
}

// route hands a message to the active screen's widget.
func (m model) route(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.state {
	case StateSelectSource:
		m.sourceList, cmd = m.sourceList.Update(msg)
	case StateSelectDevice:
		m.deviceList, cmd = m.deviceList.Update(msg)
	case StateEnterPath:
		m.pathInput, cmd = m.pathInput.Update(msg)
	case StateSelectMode:
		m.modeList, cmd = m.modeList.Update(msg)
	case StateSelectOutput:
		m.outputInput, cmd = m.outputInput.Update(msg)
	default:
		m.spinner, cmd = m.spinner.Update(msg)
	}
	return m, cmd
}

// loadDevices is a tea.Cmd: it enumerates block devices off the UI loop
// and reports them sorted by path.
func loadDevices() tea.Msg {
	devs, err := device.List()
	if err != nil {
		return devicesLoadedMsg{err: err}
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].Path < devs[j].Path })
	return devicesLoadedMsg{devices: devs}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func (m model) runRescue() tea.Cmd {
	mode := m.mode
	imagePath := m.imagePath
	outputPath := m.outputPath

	return func() tea.Msg {
		reader, err := disk.Open(imagePath)
		if err != nil {
			return rescueCompleteMsg{err: err}
		}
		defer reader.Close()

		if mode == ModeCarve {
			if err := os.MkdirAll(outputPath, 0755); err != nil {
				return rescueCompleteMsg{err: err}
			}
			c := carver.New(reader)
			c.OutputDir = outputPath
			carved, err := c.Run()
			return rescueCompleteMsg{carved: carved, err: err}
		}

		geom, err := ntfs.Locate(reader)
		if err != nil {
			return rescueCompleteMsg{err: err}
		}
		scanner := ntfs.NewScanner(reader, geom)
		deleted, err := scanner.ScanAll()
		if err != nil {
			return rescueCompleteMsg{err: err}
		}

		extracted := 0
		if mode == ModeNTFSRecover {
			if err := os.MkdirAll(outputPath, 0755); err != nil {
				return rescueCompleteMsg{deleted: deleted, err: err}
			}
			for _, e := range deleted {
				if e.IsDirectory {
					continue
				}
				if _, err := scanner.Extract(e, outputPath); err == nil {
					extracted++
				}
			}
		}

		return rescueCompleteMsg{deleted: deleted, extracted: extracted}
	}
}

// screens dispatches each state to its renderer; the shared frame around
// it lives in View.
var screens = map[State]func(model) string{
	StateWelcome:      model.viewWelcome,
	StateSelectSource: func(m model) string { return m.sourceList.View() },
	StateSelectDevice: func(m model) string { return m.deviceList.View() },
	StateEnterPath:    model.viewEnterPath,
	StateSelectMode:   func(m model) string { return m.modeList.View() },
	StateSelectOutput: func(m model) string { return m.viewPrompt("Output directory", m.outputInput) },
	StateConfirm:      model.viewConfirm,
	StateRunning:      model.viewRunning,
	StateResults:      model.viewResults,
}

func (m model) View() string {
	sections := []string{
		headerStyle.Render("diskrescue"),
		"",
		screens[m.state](m),
	}

	if m.err != nil && m.state != StateResults {
		sections = append(sections, "", dangerStyle.Render("error: "+m.err.Error()))
	}

	sections = append(sections, "", hintStyle.Render(m.hints()))
	return strings.Join(sections, "\n")
}

// hints is the footer line; each screen advertises its own keys.
func (m model) hints() string {
	switch m.state {
	case StateWelcome:
		return "enter continue · q quit"
	case StateEnterPath, StateSelectOutput:
		return "enter accept · esc back"
	case StateConfirm:
		return "y start · n back"
	case StateRunning:
		return "working — large images take a while"
	case StateResults:
		return "r run again · q quit"
	default:
		return "enter select · esc back · q quit"
	}
}

func (m model) viewWelcome() string {
	return strings.Join([]string{
		sectionStyle.Render("Recover files from a raw disk image"),
		"",
		"Two independent strategies are available:",
		"  carving   scan the byte stream for known file signatures",
		"  ntfs      walk MFT metadata looking for deleted entries",
		"",
		"Sources are opened read-only; nothing is ever written back.",
		"Prefer working from an image rather than a live device.",
		"",
		accentStyle.Render("Press enter to begin."),
	}, "\n")
}

func (m model) viewEnterPath() string {
	return m.viewPrompt("Image path", m.pathInput)
}

func (m model) viewPrompt(title string, in textinput.Model) string {
	return strings.Join([]string{
		sectionStyle.Render(title),
		"",
		in.View(),
	}, "\n")
}

func (m model) viewConfirm() string {
	rows := fmt.Sprintf("  source    %s\n  strategy  %s", m.imagePath, m.mode.label())
	if m.mode != ModeNTFSScan {
		rows += fmt.Sprintf("\n  output    %s", m.outputPath)
	}
	return strings.Join([]string{
		sectionStyle.Render("Ready"),
		"",
		rows,
		"",
		"The source is opened read-only.",
	}, "\n")
}

func (m model) viewRunning() string {
	return m.spinner.View() + " " + m.statusMsg
}

func (m model) viewResults() string {
	if m.err != nil {
		return strings.Join([]string{
			dangerStyle.Render("Scan failed"),
			"",
			m.err.Error(),
		}, "\n")
	}

	lines := []string{okStyle.Render("Scan complete"), ""}
	switch m.mode {
	case ModeCarve:
		lines = append(lines, m.carveSummary()...)
	default:
		lines = append(lines, m.ntfsSummary()...)
	}
	return strings.Join(lines, "\n")
}

const resultListCap = 20

func (m model) carveSummary() []string {
	var total int64
	for _, f := range m.carved {
		total += f.Size
	}
	lines := []string{fmt.Sprintf("Carved %d files (%s) into %s",
		len(m.carved), humanize.IBytes(uint64(total)), m.outputPath)}

	for i, f := range m.carved {
		if i == resultListCap {
			lines = append(lines, fmt.Sprintf("  … %d more", len(m.carved)-resultListCap))
			break
		}
		lines = append(lines, fmt.Sprintf("  %s  %s", filepath.Base(f.Path), humanize.IBytes(uint64(f.Size))))
	}
	return lines
}

func (m model) ntfsSummary() []string {
	lines := []string{fmt.Sprintf("Found %d deleted MFT entries", len(m.deleted))}

	for i, e := range m.deleted {
		if i == resultListCap {
			lines = append(lines, fmt.Sprintf("  … %d more", len(m.deleted)-resultListCap))
			break
		}
		name := "(no name)"
		if len(e.Names) > 0 {
			name = e.Names[0]
		}
		lines = append(lines, fmt.Sprintf("  [%d]  %s", e.Index, name))
	}

	if m.mode == ModeNTFSRecover {
		lines = append(lines, fmt.Sprintf("Extracted %d files to %s", m.extracted, m.outputPath))
	}
	return lines
}

func main() {
	p := tea.NewProgram(initialModel(), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
