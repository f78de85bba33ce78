package console

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

var (
	Info = (&pterm.PrefixPrinter{
		Prefix: pterm.Prefix{
			Style: &pterm.ThemeDefault.InfoMessageStyle,
			Text:  " ",
		},
	}).Println

	Success = (&pterm.PrefixPrinter{
		Prefix: pterm.Prefix{
			Style: &pterm.ThemeDefault.SuccessMessageStyle,
			Text:  "√",
		},
	}).Println

	Warning = (&pterm.PrefixPrinter{
		Prefix: pterm.Prefix{
			Style: &pterm.ThemeDefault.WarningMessageStyle,
			Text:  "!",
		},
	}).Println

	Error = (&pterm.PrefixPrinter{
		Prefix: pterm.Prefix{
			Style: &pterm.ThemeDefault.ErrorMessageStyle,
			Text:  "✘",
		},
	}).Println

	Print = pterm.Println

	Input = pterm.FgYellow.Print
)

var logLevels = map[string]pterm.LogLevel{
	"trace": pterm.LogLevelTrace,
	"debug": pterm.LogLevelDebug,
	"info":  pterm.LogLevelInfo,
	"warn":  pterm.LogLevelWarn,
	"error": pterm.LogLevelError,
}

// Logger returns a slog logger writing through pterm at the named level.
func Logger(level string) (*slog.Logger, error) {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(lvl))), nil
}

func ReadPassword() (string, error) {
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func NewSpinner(initialText string) *pterm.SpinnerPrinter {
	spinner := pterm.SpinnerPrinter{
		Sequence:            []string{" ⠋ ", " ⠙ ", " ⠹ ", " ⠸ ", " ⠼ ", " ⠴ ", " ⠦ ", " ⠧ ", " ⠇ ", " ⠏ "},
		Style:               &pterm.ThemeDefault.SpinnerStyle,
		Delay:               time.Millisecond * 200,
		ShowTimer:           false,
		TimerRoundingFactor: time.Second,
		TimerStyle:          &pterm.ThemeDefault.TimerStyle,
		MessageStyle:        pterm.NewStyle(pterm.FgYellow),
		InfoPrinter: &pterm.PrefixPrinter{
			Prefix: pterm.Prefix{
				Style: &pterm.ThemeDefault.InfoMessageStyle,
				Text:  " ",
			},
		},
		SuccessPrinter: &pterm.PrefixPrinter{
			Prefix: pterm.Prefix{
				Style: &pterm.ThemeDefault.SuccessMessageStyle,
				Text:  "√",
			},
		},
		FailPrinter: &pterm.PrefixPrinter{
			Prefix: pterm.Prefix{
				Style: &pterm.ThemeDefault.ErrorMessageStyle,
				Text:  "✘",
			},
		},
		WarningPrinter: &pterm.PrefixPrinter{
			Prefix: pterm.Prefix{
				Style: &pterm.ThemeDefault.WarningMessageStyle,
				Text:  "!",
			},
		},
	}

	sp, _ := spinner.Start(initialText)
	return sp
}
