package notification

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

// ExcerptLength caps message text quoted in a notification body.
const ExcerptLength = 100

// Context carries the event details a template may quote.
type Context struct {
	MessageID    int64      `json:"messageId,omitempty"`
	InvitationID string     `json:"invitationId,omitempty"`
	Text         string     `json:"text,omitempty"`
	Emoji        string     `json:"emoji,omitempty"`
	Role         model.Role `json:"role,omitempty"`
}

type names struct {
	actor        string
	conversation string
}

func render(typ model.NotificationType, n names, c Context) (title, body string, err error) {
	switch typ {
	case model.NotifyNewMessage:
		return "New message in " + n.conversation, n.actor + ": " + Excerpt(c.Text), nil
	case model.NotifyMention:
		return n.actor + " mentioned you", Excerpt(c.Text), nil
	case model.NotifyReaction:
		return n.actor + " reacted to your message", fmt.Sprintf("%s reacted %s in %s", n.actor, c.Emoji, n.conversation), nil
	case model.NotifyReply:
		return n.actor + " replied to you", Excerpt(c.Text), nil
	case model.NotifyInvite:
		return "Invitation to " + n.conversation, n.actor + " invited you to join " + n.conversation, nil
	case model.NotifyRoleChange:
		return "Role updated in " + n.conversation, fmt.Sprintf("%s changed your role to %s", n.actor, c.Role), nil
	default:
		return "", "", fmt.Errorf("no template for notification type %q", typ)
	}
}

// Excerpt trims text to at most ExcerptLength runes, marking the cut with
// an ellipsis.
func Excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= ExcerptLength {
		return text
	}
	r := []rune(text)
	return string(r[:ExcerptLength-1]) + "…"
}

func conversationName(c model.Conversation) string {
	if c.Name != "" {
		return c.Name
	}
	if c.Kind == model.KindDirect {
		return "a direct message"
	}
	return "a conversation"
}
