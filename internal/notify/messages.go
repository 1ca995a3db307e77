package notify

import (
	"strings"
	"time"
)

const defaultLanguage = "en"

var translations = map[string]map[EventType]string{
	"en": {
		TimeProposed:      "{actor} proposed meeting at {time}",
		TimeCountered:     "{actor} suggested a different time: {time}",
		TimeAccepted:      "{actor} accepted the meeting time. Pay the fee to continue",
		TimeRejected:      "{actor} declined the proposed time",
		PaymentPartial:    "{actor} paid the fee. Your payment is pending",
		PaymentComplete:   "Both fees are paid. Propose a meeting place",
		LocationProposed:  "{actor} proposed meeting at {place}",
		LocationCountered: "{actor} suggested a different place: {place}",
		LocationAccepted:  "Meeting confirmed at {place}",
		LocationRejected:  "{actor} declined the proposed place",
		ExchangeConfirmed: "{actor} confirmed the exchange",
		ExchangeCompleted: "Exchange completed. Leave a rating",
		AccessRevoked:     "Contact access for this exchange was revoked",
	},
	"es": {
		TimeProposed:      "{actor} propuso reunirse el {time}",
		TimeCountered:     "{actor} sugirió otra hora: {time}",
		TimeAccepted:      "{actor} aceptó la hora. Paga la tarifa para continuar",
		TimeRejected:      "{actor} rechazó la hora propuesta",
		PaymentPartial:    "{actor} pagó la tarifa. Tu pago está pendiente",
		PaymentComplete:   "Ambas tarifas están pagadas. Propón un lugar",
		LocationProposed:  "{actor} propuso reunirse en {place}",
		LocationCountered: "{actor} sugirió otro lugar: {place}",
		LocationAccepted:  "Reunión confirmada en {place}",
		LocationRejected:  "{actor} rechazó el lugar propuesto",
		ExchangeConfirmed: "{actor} confirmó el intercambio",
		ExchangeCompleted: "Intercambio completado. Deja una calificación",
		AccessRevoked:     "Se revocó el acceso de contacto de este intercambio",
	},
	"fr": {
		TimeProposed:      "{actor} propose un rendez-vous le {time}",
		TimeCountered:     "{actor} propose un autre horaire : {time}",
		TimeAccepted:      "{actor} a accepté l'horaire. Payez les frais pour continuer",
		TimeRejected:      "{actor} a refusé l'horaire proposé",
		PaymentPartial:    "{actor} a payé les frais. Votre paiement est en attente",
		PaymentComplete:   "Les deux frais sont payés. Proposez un lieu",
		LocationProposed:  "{actor} propose de se retrouver à {place}",
		LocationCountered: "{actor} propose un autre lieu : {place}",
		LocationAccepted:  "Rendez-vous confirmé à {place}",
		LocationRejected:  "{actor} a refusé le lieu proposé",
		ExchangeConfirmed: "{actor} a confirmé l'échange",
		ExchangeCompleted: "Échange terminé. Laissez une note",
		AccessRevoked:     "L'accès aux coordonnées de cet échange a été révoqué",
	},
}

// Render returns the text for evt in lang, falling back to English
func Render(evt Event, lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	table, ok := translations[lang]
	if !ok {
		table = translations[defaultLanguage]
	}
	tmpl, ok := table[evt.Type]
	if !ok {
		tmpl, ok = translations[defaultLanguage][evt.Type]
		if !ok {
			return string(evt.Type)
		}
	}
	actor := evt.ActorName
	if actor == "" {
		actor = evt.ActorID
	}
	var when string
	if evt.MeetingTime != nil {
		when = evt.MeetingTime.UTC().Format(time.RFC3339)
	}
	return strings.NewReplacer(
		"{actor}", actor,
		"{time}", when,
		"{place}", evt.PlaceName,
	).Replace(tmpl)
}
