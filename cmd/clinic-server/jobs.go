package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fisioclinic/clinic/internal/domain/billing"
	"github.com/fisioclinic/clinic/internal/domain/scheduling"
	"github.com/fisioclinic/clinic/internal/domain/staff"
	"github.com/fisioclinic/clinic/internal/domain/telemedicine"
	"github.com/fisioclinic/clinic/internal/platform/notification"
)

const (
	messageDateLayout = "02/01/2006"
	messageTimeLayout = "15:04"
)

type patientNotifier interface {
	Notify(ctx context.Context, patientID uuid.UUID, templateID string, data map[string]string) error
}

type reminderSource interface {
	DueForReminder(ctx context.Context, window time.Duration) ([]*scheduling.Appointment, error)
	MarkReminded(ctx context.Context, id uuid.UUID) error
}

type professionalLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*staff.Professional, error)
}

type overdueSweeper interface {
	MarkOverdue(ctx context.Context, today time.Time) (*billing.OverdueResult, error)
}

var brl = message.NewPrinter(language.BrazilianPortuguese)

// formatBRL renders cents as Brazilian reais, e.g. "R$ 1.234,50".
func formatBRL(cents int64) string {
	return brl.Sprintf("R$ %.2f", float64(cents)/100)
}

// reminderJob messages every patient whose session starts within lead and
// stamps the appointment so the reminder goes out once. A failed message is
// retried on the next run.
func reminderJob(src reminderSource, profs professionalLookup, notify patientNotifier, lead time.Duration, loc *time.Location) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		appts, err := src.DueForReminder(ctx, lead)
		if err != nil {
			return fmt.Errorf("list due reminders: %w", err)
		}
		var errs []error
		names := make(map[uuid.UUID]string)
		for _, a := range appts {
			name, ok := names[a.ProfessionalID]
			if !ok {
				if p, err := profs.Get(ctx, a.ProfessionalID); err == nil {
					name = p.Name
				}
				names[a.ProfessionalID] = name
			}
			start := a.StartAt.In(loc)
			err := notify.Notify(ctx, a.PatientID, notification.TemplateAppointmentReminder, map[string]string{
				"date":         start.Format(messageDateLayout),
				"time":         start.Format(messageTimeLayout),
				"professional": name,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("remind appointment %s: %w", a.ID, err))
				continue
			}
			if err := src.MarkReminded(ctx, a.ID); err != nil {
				errs = append(errs, fmt.Errorf("mark appointment %s reminded: %w", a.ID, err))
			}
		}
		return errors.Join(errs...)
	}
}

// overdueJob flags overdue receivables and payables, then tells each patient
// about the receivables that just became overdue.
func overdueJob(sweeper overdueSweeper, notify patientNotifier, now func() time.Time, loc *time.Location) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		res, err := sweeper.MarkOverdue(ctx, now().In(loc))
		if err != nil {
			return fmt.Errorf("mark overdue: %w", err)
		}
		var errs []error
		for _, r := range res.Receivables {
			err := notify.Notify(ctx, r.PatientID, notification.TemplatePaymentOverdue, map[string]string{
				"description": r.Description,
				"amount":      formatBRL(r.Outstanding()),
				"due_date":    r.DueDate.Format(messageDateLayout),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("notify overdue receivable %s: %w", r.ID, err))
			}
		}
		return errors.Join(errs...)
	}
}

func telemedicineLinkNotifier(notify patientNotifier, loc *time.Location) telemedicine.LinkNotifier {
	return func(ctx context.Context, s *telemedicine.Session, appt *scheduling.Appointment, link string) error {
		start := appt.StartAt.In(loc)
		return notify.Notify(ctx, s.PatientID, notification.TemplateTelemedicineLink, map[string]string{
			"date": start.Format(messageDateLayout),
			"time": start.Format(messageTimeLayout),
			"link": link,
		})
	}
}
