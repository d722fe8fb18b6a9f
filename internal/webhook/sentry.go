package webhook

import (
	"fmt"
	"time"

	"github.com/valyala/fastjson"

	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// SentryNormalizer handles error-monitor issue alerts. Alerts carry no
// user text, so they map straight to the fix command via ImplicitCommand;
// loop prevention and registry resolution still run.
type SentryNormalizer struct {
	parsers fastjson.ParserPool
}

func (n *SentryNormalizer) Provider() store.Provider { return store.ProviderSentry }

func (n *SentryNormalizer) Normalize(eventType string, body []byte) (*Event, error) {
	p := n.parsers.Get()
	defer n.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse sentry payload: %w", err)
	}

	action := str(v, "action")
	if action != "created" && action != "triggered" {
		return nil, nil
	}

	issueID := str(v, "data", "issue", "id")
	if issueID == "" {
		return nil, fmt.Errorf("sentry payload missing data.issue.id")
	}

	title := str(v, "data", "issue", "title")
	culprit := str(v, "data", "issue", "culprit")
	text := title
	if culprit != "" {
		text += "\nat " + culprit
	}

	return &Event{
		Provider:   store.ProviderSentry,
		EventType:  action,
		ExternalID: "sentry:" + issueID,
		MessageID:  issueID + ":" + action,
		Text:       text,
		Routing: store.RoutingMetadata{
			MonitorID: issueID,
		},
		ReceivedAt:      time.Now().UTC(),
		ImplicitCommand: "fix",
		Raw:             body,
	}, nil
}
