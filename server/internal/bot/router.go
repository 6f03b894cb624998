// Package bot is the platform-neutral chat command router. It turns inbound
// chat events into registry, lifecycle, gateway and tunnel calls and renders
// the results as replies.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/container"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/model"
	"github.com/obot-platform/fleetdeck/server/internal/registry"
	"github.com/obot-platform/fleetdeck/server/internal/session"
	"github.com/obot-platform/fleetdeck/server/internal/tunnel"
)

// Inbound is one chat event. Exactly one of Text, Callback or Upload is set.
type Inbound struct {
	ChatID   int64
	Text     string
	Callback *Callback
	Upload   *Upload
}

// Callback is an inline button press.
type Callback struct {
	ID   string
	Data string
}

// Upload is a file or photo sent to the chat.
type Upload struct {
	Name    string
	Data    []byte
	IsPhoto bool
}

// Button is an inline button. Exactly one of Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Document is a local file to send. Remove asks the sender to delete the file
// once it has been delivered.
type Document struct {
	Path    string
	Name    string
	Caption string
	Remove  bool
}

// Reply is one outbound message.
type Reply struct {
	Text     string
	Markdown bool
	Buttons  [][]Button
	Keyboard [][]string
	Document *Document

	// CallbackAnswer is the toast shown for the button press being handled.
	CallbackAnswer string
}

// Remote is the gateway surface the router drives over the shell channel.
type Remote interface {
	RunCommand(ctx context.Context, t gateway.Target, command string) (string, error)
	SystemStats(ctx context.Context, t gateway.Target) (*gateway.Stats, error)
	NginxStatus(ctx context.Context, t gateway.Target) (*gateway.WebStatus, error)
	AccessLogs(ctx context.Context, t gateway.Target, lines int) (string, error)
}

// Options wires the router to the core.
type Options struct {
	Registry    *registry.Registry
	Runtime     container.Runtime // nil when no engine is available
	Remote      Remote
	Navigator   *session.Navigator
	Tunnels     *tunnel.Manager
	LocalWebURL string
	Logger      *logger.Logger
}

type chatState struct {
	lastOrdinal int
}

type (
	commandFunc func(ctx context.Context, chat int64, args string) []Reply
	actionFunc  func(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply
)

// Router dispatches inbound events. It is safe for concurrent use.
type Router struct {
	opts Options
	log  *logger.Logger

	commands map[string]commandFunc
	actions  map[string]actionFunc
	labels   map[string]string

	mu    sync.Mutex
	chats map[int64]*chatState

	now func() time.Time
}

// NewRouter builds the dispatch tables.
func NewRouter(opts Options) *Router {
	r := &Router{
		opts:  opts,
		log:   opts.Logger.Named("bot"),
		chats: make(map[int64]*chatState),
		now:   time.Now,
	}
	r.commands = map[string]commandFunc{
		"/start":    r.cmdStart,
		"/help":     r.cmdHelp,
		"/servers":  r.cmdServers,
		"/status":   r.cmdStatus,
		"/stop":     r.cmdStop,
		"/restart":  r.cmdRestart,
		"/stats":    r.cmdStats,
		"/ssh":      r.cmdSSH,
		"/ftp":      r.cmdFTP,
		"/download": r.cmdDownload,
		"/web":      r.cmdWeb,
		"/logs":     r.cmdLogs,
		"/tunnel":   r.cmdTunnel,
		"/close":    r.cmdClose,
	}
	r.actions = map[string]actionFunc{
		actSelect:      r.actStatus,
		actStatus:      r.actStatus,
		actStart:       r.actStart,
		actStop:        r.actStop,
		actStats:       r.actStats,
		actSSH:         r.actSSH,
		actFTPList:     r.actFTPList,
		actFTPUpload:   r.actFTPUpload,
		actWebStatus:   r.actWeb,
		actWebLogs:     r.actWebLogs,
		actFTPCd:       r.actFTPCd,
		actFTPUp:       r.actFTPUp,
		actFTPRefresh:  r.actFTPRefresh,
		actCloseTunnel: r.actCloseTunnel,
	}
	r.labels = map[string]string{
		labelServers: "/servers",
		labelHelp:    "/help",
	}
	return r
}

// Handle processes one inbound event and returns the replies to send.
// A panic inside a handler is reported as an error reply.
func (r *Router) Handle(ctx context.Context, in Inbound) (replies []Reply) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panic", "chat", in.ChatID, "panic", p, "stack", string(debug.Stack()))
			replies = []Reply{{Text: "❌ Error interno. Inténtalo de nuevo."}}
		}
	}()

	switch {
	case in.Callback != nil:
		return r.handleCallback(ctx, in.ChatID, in.Callback)
	case in.Upload != nil:
		return r.handleUpload(ctx, in.ChatID, in.Upload)
	default:
		return r.handleText(ctx, in.ChatID, in.Text)
	}
}

// splitCommand returns the lowercased command word, without any @botname
// suffix, and the remaining text.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	word, rest, _ := strings.Cut(text, " ")
	word, _, _ = strings.Cut(word, "@")
	return strings.ToLower(word), strings.TrimSpace(rest)
}

func (r *Router) handleText(ctx context.Context, chat int64, text string) []Reply {
	text = strings.TrimSpace(text)
	if cmd, ok := r.labels[text]; ok {
		text = cmd
	}
	if !strings.HasPrefix(text, "/") {
		return []Reply{{Text: "💡 Usa /help para ver los comandos disponibles."}}
	}
	cmd, args := splitCommand(text)
	fn, ok := r.commands[cmd]
	if !ok {
		return []Reply{{Text: fmt.Sprintf("❓ Comando desconocido: %s\nUsa /help para ver los comandos disponibles.", cmd)}}
	}
	r.log.Debug("command", "chat", chat, "command", cmd)
	return fn(ctx, chat, args)
}

func (r *Router) handleCallback(ctx context.Context, chat int64, cb *Callback) []Reply {
	tok, err := DecodeToken(cb.Data)
	if err != nil {
		return withAnswer(renderError(err), "Botón no válido")
	}
	fn, ok := r.actions[tok.Action]
	if !ok {
		return withAnswer(Reply{Text: "❓ Acción desconocida."}, "Botón no válido")
	}
	ep, err := r.opts.Registry.ResolveToken(ctx, tok.Ordinal, tok.Fingerprint)
	if err != nil {
		return withAnswer(renderError(err), "Servidor no encontrado")
	}
	r.remember(chat, ep)
	r.log.Debug("callback", "chat", chat, "action", tok.Action, "server", ep.Name)
	return fn(ctx, chat, ep, tok)
}

func withAnswer(reply Reply, answer string) []Reply {
	reply.CallbackAnswer = answer
	return []Reply{reply}
}

func tokenButton(text string, tok Token) Button {
	// Oversized tokens encode as "" and are dropped by adapters.
	data, _ := tok.Encode()
	return Button{Text: text, Data: data}
}

func (r *Router) remember(chat int64, ep *model.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.chats[chat]
	if st == nil {
		st = &chatState{}
		r.chats[chat] = st
	}
	st.lastOrdinal = ep.Ordinal
}

func (r *Router) lastOrdinal(chat int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.chats[chat]; st != nil {
		return st.lastOrdinal
	}
	return 0
}

func clientKey(chat int64) string {
	return strconv.FormatInt(chat, 10)
}

// resolve resolves ref against a fresh snapshot and records it for the chat.
func (r *Router) resolve(ctx context.Context, chat int64, ref string) (*model.Endpoint, []Reply) {
	if ref == "" {
		return nil, []Reply{{Text: "⚠️ Indica el servidor: número o nombre. Usa /servers para ver la lista."}}
	}
	ep, err := r.opts.Registry.Resolve(ctx, ref)
	if err != nil {
		return nil, []Reply{renderError(err)}
	}
	r.remember(chat, ep)
	return ep, nil
}

// control returns the shell channel of a running endpoint.
func control(ep *model.Endpoint) (*model.Connection, *Reply) {
	if !ep.Running() {
		reply := notRunning(ep)
		return nil, &reply
	}
	if ep.Control == nil {
		reply := renderError(apperr.InvalidInput("control", "%s has no shell channel for this operation", ep.Name))
		return nil, &reply
	}
	return ep.Control, nil
}

func (r *Router) runtime() (container.Runtime, error) {
	if r.opts.Runtime == nil {
		return nil, apperr.ConfigurationMissing("lifecycle", "container engine is not available")
	}
	return r.opts.Runtime, nil
}

func managed(ep *model.Endpoint) error {
	if ep.Origin != model.OriginContainer {
		return apperr.InvalidInput("lifecycle", "%s is a custom server and is not managed here", ep.Name)
	}
	return nil
}
