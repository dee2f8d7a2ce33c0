package domain

import (
	"fmt"
	"strings"
	"time"
)

// AlertMessage is the formatted notification handed to the Notifier.
type AlertMessage struct {
	Recipients []string
	Subject    string
	Body       string
}

// BuildAlertMessage formats a rationale-enriched alert from an incident's
// observation and assessment. The team parameter names the response team the
// policy routed the incident to. humanVerified adds the operator-verification
// note for alerts that passed the approval gate.
func BuildAlertMessage(inc *Incident, team string, recipients []string, humanVerified bool, generatedAt time.Time) AlertMessage {
	obs := inc.Observation
	a := inc.Assessment

	subject := fmt.Sprintf("Weather Report for %s", inc.Location)
	if a != nil && a.DisasterType != "" && a.Severity != "" {
		subject = fmt.Sprintf("Weather Alert: %s severity weather event in %s", a.Severity, inc.Location)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weather Report for %s\n\n", inc.Location)

	if obs != nil {
		b.WriteString("Current Weather Conditions:\n")
		fmt.Fprintf(&b, "- Weather Description: %s\n", obs.Description)
		fmt.Fprintf(&b, "- Temperature: %.1f°C\n", obs.TemperatureC)
		fmt.Fprintf(&b, "- Wind Speed: %.1f m/s\n", obs.WindSpeedMS)
		fmt.Fprintf(&b, "- Humidity: %.0f%%\n", obs.HumidityPct)
		fmt.Fprintf(&b, "- Pressure: %.0f hPa\n", obs.PressureHPa)
		fmt.Fprintf(&b, "- Cloud Cover: %.0f%%\n", obs.CloudCoverPct)
		b.WriteString("\n")
	}

	if a != nil {
		fmt.Fprintf(&b, "Disaster Type: %s\n", a.DisasterType)
		fmt.Fprintf(&b, "Severity Level: %s\n", a.Severity)
		if team != "" {
			fmt.Fprintf(&b, "Response Team: %s\n", team)
		}
		if a.Rationale != "" {
			fmt.Fprintf(&b, "\nAssessment:\n%s\n", a.Rationale)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "This is an automated weather report generated at %s", generatedAt.UTC().Format("2006-01-02 15:04:05"))

	if humanVerified {
		b.WriteString("\nNote: This alert has been verified by a human operator.")
	}

	return AlertMessage{
		Recipients: recipients,
		Subject:    subject,
		Body:       b.String(),
	}
}
