package webhook

import (
	"fmt"
	"time"

	"github.com/valyala/fastjson"

	"github.com/nextlevelbuilder/hookrelay/internal/command"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// SlackNormalizer handles event_callback deliveries (message and
// app_mention events). The url_verification challenge is answered by the
// gateway before normalization.
type SlackNormalizer struct {
	parsers fastjson.ParserPool
}

func (n *SlackNormalizer) Provider() store.Provider { return store.ProviderSlack }

func (n *SlackNormalizer) Normalize(eventType string, body []byte) (*Event, error) {
	p := n.parsers.Get()
	defer n.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse slack payload: %w", err)
	}

	if str(v, "type") != "event_callback" {
		return nil, nil
	}
	inner := str(v, "event", "type")
	if inner != "message" && inner != "app_mention" {
		return nil, nil
	}
	// Edits, joins etc. arrive as message subtypes; bot_message is caught
	// here as well as by the loop guard.
	if sub := str(v, "event", "subtype"); sub != "" && sub != "bot_message" {
		return nil, nil
	}

	channel := str(v, "event", "channel")
	ts := str(v, "event", "ts")
	if channel == "" || ts == "" {
		return nil, fmt.Errorf("slack payload missing event.channel or event.ts")
	}

	// Thread root anchors the flow so follow-ups in one thread correlate.
	threadTS := str(v, "event", "thread_ts")
	if threadTS == "" {
		threadTS = ts
	}

	text := str(v, "event", "text")
	if text == "" {
		text = flattenBlocks(v.Get("event", "blocks"))
	}

	return &Event{
		Provider:   store.ProviderSlack,
		EventType:  inner,
		ExternalID: fmt.Sprintf("slack:%s:%s", channel, threadTS),
		MessageID:  ts,
		Text:       text,
		Actor: command.Actor{
			Login: str(v, "event", "user"),
			BotID: str(v, "event", "bot_id"),
		},
		UserID: str(v, "event", "user"),
		Routing: store.RoutingMetadata{
			Channel:  channel,
			ThreadTS: threadTS,
			Sender:   str(v, "event", "user"),
		},
		ReceivedAt: time.Now().UTC(),
		Raw:        body,
	}, nil
}

// flattenBlocks extracts text from block-kit style rich text blocks.
// Same walker as the issue-tracker document flattener; blocks nest their
// text under "elements" instead of "content".
func flattenBlocks(v *fastjson.Value) string {
	return flattenDoc(v)
}
