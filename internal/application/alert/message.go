package alert

import (
	"bytes"
	"fmt"
	"math"
	"text/template"

	"stock-alarm/internal/domain/market"
	"stock-alarm/internal/domain/watch"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const defaultBrand = "Stock Alarm"

var numberPrinter = message.NewPrinter(language.English)

var templateFuncs = template.FuncMap{
	"signed": func(v float64) string { return fmt.Sprintf("%+.2f", v) },
	"price":  func(v float64) string { return numberPrinter.Sprintf("%.0f", v) },
	"level":  func(v float64) string { return numberPrinter.Sprintf("%.2f", v) },
}

var subjectTemplate = template.Must(template.New("subject").Funcs(templateFuncs).Parse(
	`[{{.Brand}}] {{.Name}} {{signed .ChangeRate}}% {{.Direction}} threshold reached`))

var bodyTemplate = template.Must(template.New("body").Funcs(templateFuncs).Parse(`{{.Name}} ({{.Ticker}}) reached your {{.Direction}} threshold.

Registered price: {{price .BasePrice}}
Current price:    {{price .ObservedPrice}}
Change:           {{signed .ChangeRate}}%

{{.Commentary}}

Market close
  KOSPI  {{level .Market.KOSPI.Close}} ({{signed .Market.KOSPI.ChangeRate}}%)
  KOSDAQ {{level .Market.KOSDAQ.Close}} ({{signed .Market.KOSDAQ.ChangeRate}}%)

This alert has now stopped. Manage your watches: {{.SettingsURL}}
`))

type messageData struct {
	Brand         string
	Name          string
	Ticker        string
	BasePrice     float64
	ObservedPrice float64
	ChangeRate    float64
	Direction     string
	Commentary    string
	Market        market.Summary
	SettingsURL   string
}

// Direction 門檻方向的文字（rise/fall）。
func Direction(kind watch.ThresholdKind) string {
	if kind == watch.KindUpper {
		return "rise"
	}
	return "fall"
}

// FallbackCommentary 評論產生失敗時使用的固定句。
func FallbackCommentary(name string, changeRate float64, kind watch.ThresholdKind) string {
	move := "down"
	if kind == watch.KindUpper {
		move = "up"
	}
	return fmt.Sprintf("%s moved %.2f%% %s from the registered price and reached your %s threshold.",
		name, math.Abs(changeRate), move, Direction(kind))
}

func renderMessage(to string, data messageData) (Message, error) {
	if data.Brand == "" {
		data.Brand = defaultBrand
	}
	var subject, body bytes.Buffer
	if err := subjectTemplate.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := bodyTemplate.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{To: to, Subject: subject.String(), Body: body.String()}, nil
}
