package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/nextlevelbuilder/hookrelay/internal/command"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// JiraNormalizer handles issue comment events. Cloud payloads carry the
// comment body as a nested rich-text document; server payloads as a plain
// string. Both flatten to one text field.
type JiraNormalizer struct {
	parsers fastjson.ParserPool
}

func (n *JiraNormalizer) Provider() store.Provider { return store.ProviderJira }

func (n *JiraNormalizer) Normalize(eventType string, body []byte) (*Event, error) {
	p := n.parsers.Get()
	defer n.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse jira payload: %w", err)
	}

	hook := str(v, "webhookEvent")
	if hook != "comment_created" && hook != "comment_updated" {
		return nil, nil
	}

	key := str(v, "issue", "key")
	if key == "" {
		return nil, fmt.Errorf("jira payload missing issue.key")
	}

	text := str(v, "comment", "body")
	if text == "" {
		// Rich-text document body (cloud).
		text = flattenDoc(v.Get("comment", "body"))
	}

	actor := command.Actor{Login: str(v, "comment", "author", "displayName")}
	if str(v, "comment", "author", "accountType") == "app" {
		actor.UserType = "bot"
	}
	userID := str(v, "comment", "author", "accountId")
	if userID == "" {
		userID = actor.Login
	}

	return &Event{
		Provider:   store.ProviderJira,
		EventType:  hook,
		ExternalID: "jira:" + key,
		MessageID:  str(v, "comment", "id"),
		Text:       text,
		Actor:      actor,
		UserID:     userID,
		Routing: store.RoutingMetadata{
			TicketKey: key,
			Sender:    actor.Login,
		},
		ReceivedAt: time.Now().UTC(),
		Raw:        body,
	}, nil
}

// flattenDoc walks a nested rich-text document and joins its text nodes.
// Paragraph-level nodes separate with newlines, inline nodes concatenate.
func flattenDoc(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	var sb strings.Builder
	walkDoc(v, &sb)
	return strings.TrimSpace(sb.String())
}

func walkDoc(v *fastjson.Value, sb *strings.Builder) {
	if v.Type() == fastjson.TypeArray {
		for _, child := range v.GetArray() {
			walkDoc(child, sb)
		}
		return
	}
	if t := v.GetStringBytes("text"); t != nil && v.Get("content") == nil && v.Get("elements") == nil {
		sb.Write(t)
		return
	}
	children := v.GetArray("content")
	if children == nil {
		children = v.GetArray("elements")
	}
	for _, child := range children {
		walkDoc(child, sb)
		switch string(child.GetStringBytes("type")) {
		case "paragraph", "heading", "rich_text_section":
			sb.WriteByte('\n')
		}
	}
}
