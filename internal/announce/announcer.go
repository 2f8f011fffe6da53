// Package announce renders the call signal for a ticket and hands it to a
// delivery provider: the log, a webhook for the voice box, or a RabbitMQ
// queue read by the waiting-room displays.
package announce

import (
	"context"
	"strings"
	"time"

	"qms/clinic-console/internal/models"
	"qms/clinic-console/internal/settings"

	"github.com/rs/zerolog"
)

const (
	templateCalled          = "ticket_called"
	templateRecalled        = "ticket_recalled"
	templateCalledNoCounter = "ticket_called_no_counter"
)

// Message is what providers deliver. Text is already rendered.
type Message struct {
	TicketID     int64     `json:"ticket_id"`
	QueueCode    string    `json:"queue_code"`
	Counter      string    `json:"counter,omitempty"`
	DepartmentID int64     `json:"department_id"`
	Recall       bool      `json:"recall"`
	Lang         string    `json:"lang"`
	Sound        bool      `json:"sound"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

type Announcer struct {
	provider Provider
	prefs    settings.Notification
	lang     string
	logger   zerolog.Logger
	now      func() time.Time
}

func New(provider Provider, prefs settings.Notification, lang string, logger zerolog.Logger) *Announcer {
	if provider == nil {
		provider = noopProvider{}
	}
	return &Announcer{
		provider: provider,
		prefs:    prefs,
		lang:     normalizeLang(lang),
		logger:   logger.With().Str("component", "announce").Logger(),
		now:      time.Now,
	}
}

// Announce sends the call signal for ticket. Nothing is sent unless the
// notification preferences allow it.
func (a *Announcer) Announce(ctx context.Context, ticket models.Ticket, recall bool) error {
	if !a.prefs.Allowed() {
		a.logger.Debug().
			Str("queue_code", ticket.QueueCode).
			Bool("enabled", a.prefs.Enabled).
			Str("permission", string(a.prefs.Permission)).
			Msg("announcement suppressed")
		return nil
	}
	msg := a.Compose(ticket, recall)
	if err := a.provider.Send(ctx, msg); err != nil {
		return err
	}
	a.logger.Info().Str("queue_code", ticket.QueueCode).Bool("recall", recall).Msg("announced")
	return nil
}

func (a *Announcer) Compose(ticket models.Ticket, recall bool) Message {
	msg := Message{
		TicketID:     ticket.ID,
		QueueCode:    ticket.QueueCode,
		DepartmentID: ticket.DepartmentID,
		Recall:       recall,
		Lang:         a.lang,
		Sound:        a.prefs.Sound,
		CreatedAt:    a.now().UTC(),
	}
	if ticket.CounterNumber != nil {
		msg.Counter = *ticket.CounterNumber
	}
	msg.Text = Render(msg.QueueCode, msg.Counter, recall, a.lang)
	return msg
}

// Render builds the spoken text. An empty counter drops the counter phrase.
func Render(queueCode, counter string, recall bool, lang string) string {
	templateID := templateCalled
	switch {
	case counter == "":
		templateID = templateCalledNoCounter
	case recall:
		templateID = templateRecalled
	}
	return renderTemplate(defaultTemplate(templateID, normalizeLang(lang)), map[string]string{
		"queue_code": queueCode,
		"counter":    counter,
	})
}

func defaultTemplate(templateID, lang string) string {
	if lang == "en" {
		switch templateID {
		case templateCalled:
			return "Queue number {queue_code}, please proceed to counter {counter}"
		case templateRecalled:
			return "Calling again, queue number {queue_code}, please proceed to counter {counter}"
		case templateCalledNoCounter:
			return "Queue number {queue_code}, please proceed"
		}
	}
	switch templateID {
	case templateCalled:
		return "Nomor antrian {queue_code} silakan menuju loket {counter}"
	case templateRecalled:
		return "Panggilan ulang, nomor antrian {queue_code} silakan menuju loket {counter}"
	case templateCalledNoCounter:
		return "Nomor antrian {queue_code} silakan maju"
	}
	return ""
}

func renderTemplate(template string, values map[string]string) string {
	result := template
	for key, value := range values {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}

func normalizeLang(lang string) string {
	if strings.EqualFold(strings.TrimSpace(lang), "en") {
		return "en"
	}
	return "id"
}
