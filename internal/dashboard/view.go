// Package dashboard is the terminal UI: live test status, power against
// target, rider metrics, alerts and the result, with single-key controls.
package dashboard

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/smart-trainer/ftp-test/internal/alert"
	"github.com/lowaak/smart-trainer/ftp-test/internal/engine"
	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
	"github.com/lowaak/smart-trainer/ftp-test/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ftp-test/internal/protocol"
)

const maxAlertLines = 200

// Controller is what the dashboard's keys act on
type Controller interface {
	State() engine.State
	Listen(ch chan<- engine.State) func()
	StartTest(t protocol.Type) bool
	StopTest(reason engine.FailureReason) bool
	DismissResults() bool
	ApplyResult() (ftp.TestResult, bool)
	FTP() int
}

var protocolKeys = map[rune]protocol.Type{
	'1': protocol.Ramp,
	'2': protocol.TwentyMinute,
	'3': protocol.EightMinute,
}

// View renders the engine state with tview
type View struct {
	logger *log.Logger
	app    *tview.Application
	ctrl   Controller
	alerts <-chan alert.Command
	onQuit func()

	mainFlex     *tview.Flex
	statusPanel  *tview.TextView
	powerPanel   *tview.TextView
	metricsPanel *tview.TextView
	resultPanel  *tview.TextView
	alertView    *tview.TextView

	mu         sync.Mutex
	alertLines []string

	wg sync.WaitGroup
}

// NewView builds the widgets. alerts may be nil; onQuit runs when Esc is pressed.
func NewView(app *tview.Application, ctrl Controller, alerts <-chan alert.Command, onQuit func(), logger *log.Logger) *View {
	if logger == nil {
		panic("View: logger cannot be nil")
	}
	if ctrl == nil {
		panic("View: controller cannot be nil")
	}
	v := &View{
		logger: logger,
		app:    app,
		ctrl:   ctrl,
		alerts: alerts,
		onQuit: onQuit,
	}
	v.initWidgets()
	v.setupKeyboardHandlers()
	v.render(ctrl.State())
	return v
}

func newPanel(title string) *tview.TextView {
	// no SetChangedFunc(app.Draw): drawing after Stop hangs
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBorder(true).SetTitle(" " + title + " ")
	return tv
}

func (v *View) initWidgets() {
	help := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(keyHelp)

	v.statusPanel = newPanel("Test")
	v.powerPanel = newPanel("Power")
	v.metricsPanel = newPanel("Rider")
	v.resultPanel = newPanel("Result")
	v.alertView = newPanel("Alerts")
	v.alertView.SetScrollable(false)

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.statusPanel, 0, 2, false).
		AddItem(v.powerPanel, 0, 1, false).
		AddItem(v.metricsPanel, 0, 1, false)

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.resultPanel, 0, 1, false).
		AddItem(v.alertView, 0, 1, false)

	body := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(left, 0, 1, true).
		AddItem(right, 0, 1, false)

	v.mainFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(help, 1, 0, false).
		AddItem(body, 0, 1, true)
}

func (v *View) setupKeyboardHandlers() {
	v.app.SetInputCapture(v.handleKey)
}

// handleKey maps a key press onto an engine command. It returns nil for keys it
// consumed.
func (v *View) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape:
		v.logger.Printf("View: Quit requested")
		if v.onQuit != nil {
			v.onQuit()
		}
		return nil
	case tcell.KeyRune:
	default:
		return event
	}

	r := event.Rune()
	if t, ok := protocolKeys[r]; ok {
		v.logger.Printf("View: Starting %s", t)
		if !v.ctrl.StartTest(t) {
			v.addAlertLine(fmt.Sprintf("[gray]%s[white] [red]Cannot start: no telemetry[white]", time.Now().Format("15:04:05")))
		}
		return nil
	}

	switch r {
	case ' ':
		v.ctrl.StopTest(engine.ReasonUserStopped)
	case 'd':
		v.ctrl.DismissResults()
	case 'a':
		if res, ok := v.ctrl.ApplyResult(); ok {
			v.addAlertLine(fmt.Sprintf("[gray]%s[white] [green]FTP set to %d W[white]", time.Now().Format("15:04:05"), res.FTP))
		}
	default:
		return event
	}
	return nil
}

// Run shows the dashboard until ctx is done or the app stops
func (v *View) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		v.wg.Wait()
	}()

	states := make(chan engine.State, 1)
	unregister := v.ctrl.Listen(states)

	go_func_utils.SafeGoWG(v.logger, &v.wg, func() {
		defer unregister()
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-states:
				v.render(s)
				v.app.Draw()
			case cmd, ok := <-v.alerts:
				if !ok {
					v.alerts = nil
					continue
				}
				v.addAlertLine(renderAlert(cmd, time.Now()))
				v.app.Draw()
			}
		}
	})

	go_func_utils.SafeGoWG(v.logger, &v.wg, func() {
		<-ctx.Done()
		v.app.Stop()
	})

	// SetRoot must come before focus changes or focus gets reset
	v.app.SetRoot(v.mainFlex, true)
	return v.app.Run()
}

func (v *View) render(s engine.State) {
	v.statusPanel.SetText(renderStatus(s, v.ctrl.FTP()))
	v.powerPanel.SetText(renderPower(s))
	v.metricsPanel.SetText(renderMetrics(s))
	v.resultPanel.SetText(renderResult(resultOf(s)))
}

func (v *View) addAlertLine(line string) {
	v.mu.Lock()
	v.alertLines = append(v.alertLines, line)
	if over := len(v.alertLines) - maxAlertLines; over > 0 {
		v.alertLines = v.alertLines[over:]
	}
	text := strings.Join(v.alertLines, "\n")
	v.mu.Unlock()

	v.alertView.SetText(text)
}
