package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const usage = `commands:
  <text>                 send to the current conversation
  /join <conversation>   switch conversation
  /reply <id> <text>     reply to a message
  /edit <id> <text>      edit your message
  /delete <id>           delete a message
  /react <id> <emoji>    toggle a reaction
  /read                  mark the conversation read
  /ban <user> [reason]   ban a member (admins)
  /unban <user>
  /mute <user> [reason]
  /unmute <user>
  /notifications         list notifications
  /quit`

type command struct {
	event model.EventType
	data  any
	quit  bool
}

type session struct {
	conversation string
}

func (s *session) parse(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{event: model.EventMessageSend, data: map[string]any{"conversationId": s.conversation, "text": line}}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit":
		return command{quit: true}, nil
	case "help":
		return command{}, errors.New(usage)
	case "join":
		if rest == "" {
			return command{}, errors.New("usage: /join <conversation>")
		}
		s.conversation = rest
		return command{event: model.EventConversationJoin, data: map[string]any{"conversationId": rest}}, nil
	case "read":
		return command{event: model.EventReceiptRead, data: map[string]any{"conversationId": s.conversation}}, nil
	case "notifications":
		return command{event: model.EventNotificationList, data: map[string]any{"limit": 20}}, nil
	case "delete":
		id, err := messageID(rest)
		if err != nil {
			return command{}, err
		}
		return command{event: model.EventMessageDelete, data: map[string]any{"messageId": id}}, nil
	case "reply", "edit", "react":
		idText, arg, _ := strings.Cut(rest, " ")
		id, err := messageID(idText)
		if err != nil {
			return command{}, err
		}
		arg = strings.TrimSpace(arg)
		if arg == "" {
			return command{}, fmt.Errorf("usage: /%s <id> <text>", name)
		}
		switch name {
		case "reply":
			return command{event: model.EventMessageSend, data: map[string]any{"conversationId": s.conversation, "text": arg, "replyToId": id}}, nil
		case "edit":
			return command{event: model.EventMessageEdit, data: map[string]any{"messageId": id, "text": arg}}, nil
		default:
			return command{event: model.EventReactionToggle, data: map[string]any{"messageId": id, "emoji": arg}}, nil
		}
	case "ban", "unban", "mute", "unmute":
		target, reason, _ := strings.Cut(rest, " ")
		if target == "" {
			return command{}, fmt.Errorf("usage: /%s <user>", name)
		}
		return command{event: model.EventModerationAction, data: map[string]any{
			"conversationId": s.conversation,
			"action":         strings.ToUpper(name),
			"targetUserId":   target,
			"reason":         strings.TrimSpace(reason),
		}}, nil
	}
	return command{}, fmt.Errorf("unknown command /%s (try /help)", name)
}

func messageID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return id, nil
}

// render formats an incoming frame for the terminal. Frames not worth
// showing render as "".
func render(env model.Envelope, self string) string {
	switch env.Event {
	case model.EventMessageNew, model.EventMessageUpdated:
		var m model.Message
		if json.Unmarshal(env.Data, &m) != nil {
			return ""
		}
		suffix := ""
		if m.Edited {
			suffix = " (edited)"
		}
		return fmt.Sprintf("[%s #%d] %s: %s%s", m.ConversationID, m.ID, m.AuthorID, m.Text, suffix)
	case model.EventMessageDeleted:
		var ref struct {
			MessageID int64 `json:"messageId"`
		}
		_ = json.Unmarshal(env.Data, &ref)
		return fmt.Sprintf("message #%d was deleted", ref.MessageID)
	case model.EventPresenceUpdate:
		var p model.PresenceUpdate
		if json.Unmarshal(env.Data, &p) != nil || p.UserID == self {
			return ""
		}
		return fmt.Sprintf("%s is %s", p.UserID, strings.ToLower(string(p.Status)))
	case model.EventNotificationNew:
		var n model.Notification
		if json.Unmarshal(env.Data, &n) != nil {
			return ""
		}
		return fmt.Sprintf("* %s: %s", n.Title, n.Body)
	case model.EventModerationUpdated:
		var a model.ModerationAction
		if json.Unmarshal(env.Data, &a) != nil {
			return ""
		}
		return fmt.Sprintf("moderation: %s %s by %s", a.Kind, a.TargetUserID, a.ActorID)
	case model.EventAck:
		var a model.Ack
		if json.Unmarshal(env.Data, &a) != nil || a.Success {
			return ""
		}
		return "error: " + a.Error
	case model.EventError:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(env.Data, &e)
		return "error: " + e.Error
	}
	return ""
}
