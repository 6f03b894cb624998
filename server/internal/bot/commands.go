package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

const logLines = 15

func (r *Router) cmdStart(ctx context.Context, chat int64, args string) []Reply {
	if args == "" {
		// A bare /start begins the conversation afresh.
		r.opts.Navigator.Forget(clientKey(chat))
		return []Reply{{Text: welcomeText, Markdown: true, Keyboard: mainKeyboard}}
	}
	ep, fail := r.resolve(ctx, chat, args)
	if fail != nil {
		return fail
	}
	return r.lifecycle(ctx, ep, actStart)
}

func (r *Router) cmdHelp(ctx context.Context, chat int64, args string) []Reply {
	return []Reply{{Text: helpText, Markdown: true}}
}

func (r *Router) cmdServers(ctx context.Context, chat int64, args string) []Reply {
	snap, err := r.opts.Registry.List(ctx)
	if err != nil {
		return []Reply{renderError(err)}
	}
	return []Reply{renderServerList(snap)}
}

func (r *Router) cmdStatus(ctx context.Context, chat int64, args string) []Reply {
	ep, fail := r.resolve(ctx, chat, args)
	if fail != nil {
		return fail
	}
	return r.actStatus(ctx, chat, ep, Token{})
}

func (r *Router) cmdStop(ctx context.Context, chat int64, args string) []Reply {
	ep, fail := r.resolve(ctx, chat, args)
	if fail != nil {
		return fail
	}
	return r.lifecycle(ctx, ep, actStop)
}

func (r *Router) cmdRestart(ctx context.Context, chat int64, args string) []Reply {
	ep, fail := r.resolve(ctx, chat, args)
	if fail != nil {
		return fail
	}
	return r.lifecycle(ctx, ep, "restart")
}

func (r *Router) cmdStats(ctx context.Context, chat int64, args string) []Reply {
	ep, fail := r.resolve(ctx, chat, args)
	if fail != nil {
		return fail
	}
	return r.actStats(ctx, chat, ep, Token{})
}

func (r *Router) cmdSSH(ctx context.Context, chat int64, args string) []Reply {
	ref, command, _ := strings.Cut(args, " ")
	command = strings.TrimSpace(command)
	ep, fail := r.resolve(ctx, chat, ref)
	if fail != nil {
		return fail
	}
	if !ep.Caps.RunsCommands {
		return []Reply{wrongKind(ep, model.KindShell)}
	}
	if !ep.Running() {
		return []Reply{notRunning(ep)}
	}
	if command == "" {
		return r.actSSH(ctx, chat, ep, Token{})
	}

	out, err := r.opts.Remote.RunCommand(ctx, ep.Connection, command)
	if err != nil {
		return []Reply{renderError(err)}
	}
	if strings.TrimSpace(out) == "" {
		out = "(sin salida)"
	}
	text := fmt.Sprintf("💻 *Resultado SSH - #%d*\n\n📝 *Comando:* `%s`\n\n📤 *Salida:*\n%s",
		ep.Ordinal, strings.ReplaceAll(command, "`", "'"), codeBlock(Truncate(out, MaxCommandOutput)))
	return []Reply{{Text: text, Markdown: true}}
}

func (r *Router) cmdFTP(ctx context.Context, chat int64, args string) []Reply {
	ref, dir, _ := strings.Cut(args, " ")
	ep, fail := r.resolve(ctx, chat, ref)
	if fail != nil {
		return fail
	}
	return r.listDir(ctx, chat, ep, strings.TrimSpace(dir))
}

func (r *Router) listDir(ctx context.Context, chat int64, ep *model.Endpoint, dir string) []Reply {
	if !ep.Caps.BrowsesFiles {
		return []Reply{wrongKind(ep, model.KindFTP)}
	}
	if !ep.Running() {
		return []Reply{notRunning(ep)}
	}
	l, err := r.opts.Navigator.List(ctx, clientKey(chat), *ep, dir)
	if err != nil {
		return []Reply{renderError(err)}
	}
	return []Reply{renderListing(l)}
}

var noListingHint = Reply{Text: "💡 Primero usa /ftp <#> para ver los archivos disponibles."}

// navEndpoint re-reads the endpoint behind the chat's listing so transfers
// never target a server that has gone away or stopped, and dial the address
// it has now.
func (r *Router) navEndpoint(ctx context.Context, chat int64) (*model.Endpoint, []Reply) {
	l, ok := r.opts.Navigator.Session(clientKey(chat))
	if !ok || l.Generation == 0 {
		return nil, []Reply{noListingHint}
	}
	snap, err := r.opts.Registry.List(ctx)
	if err != nil {
		return nil, []Reply{renderError(err)}
	}
	for _, ep := range snap.Endpoints() {
		if ep.ID == l.Endpoint.ID {
			if !ep.Running() {
				return nil, []Reply{notRunning(&ep)}
			}
			return &ep, nil
		}
	}
	return nil, []Reply{renderError(apperr.NotFound("file transfer", "the server of the current listing no longer exists"))}
}

func (r *Router) cmdDownload(ctx context.Context, chat int64, args string) []Reply {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return []Reply{{Text: "⚠️ Uso: /download <#>"}}
	}
	ep, fail := r.navEndpoint(ctx, chat)
	if fail != nil {
		return fail
	}
	local, entry, err := r.opts.Navigator.DownloadByOrdinal(ctx, clientKey(chat), *ep, n, 0)
	if err != nil {
		reply := renderError(err)
		if errors.Is(err, apperr.ErrNotFound) {
			if last := r.lastOrdinal(chat); last > 0 {
				reply.Text += fmt.Sprintf("\nUsa /ftp %d para ver la lista.", last)
			}
		}
		return []Reply{reply}
	}
	return []Reply{{Document: &Document{
		Path:    local,
		Name:    entry.Name,
		Caption: fmt.Sprintf("📁 %s\n📊 %s", entry.Name, sizeLabel(entry.Size)),
		Remove:  true,
	}}}
}

func (r *Router) handleUpload(ctx context.Context, chat int64, up *Upload) []Reply {
	ep, fail := r.navEndpoint(ctx, chat)
	if fail != nil {
		if fail[0].Text == noListingHint.Text {
			return []Reply{{Text: "💡 Primero usa /ftp <#> para seleccionar un servidor FTP."}}
		}
		return fail
	}
	name := up.Name
	if up.IsPhoto || name == "" {
		name = fmt.Sprintf("photo_%d.jpg", r.now().UnixMilli())
	}
	remote, err := r.opts.Navigator.UploadIntoCurrentPath(ctx, clientKey(chat), *ep, name, up.Data)
	if err != nil {
		return []Reply{renderError(err)}
	}
	return []Reply{{Text: fmt.Sprintf("✅ Archivo subido correctamente!\n📁 Ruta: `%s`", remote), Markdown: true}}
}

func (r *Router) cmdWeb(ctx context.Context, chat int64, args string) []Reply {
	ep, fail := r.resolve(ctx, chat, args)
	if fail != nil {
		return fail
	}
	return r.actWeb(ctx, chat, ep, Token{})
}

func (r *Router) cmdLogs(ctx context.Context, chat int64, args string) []Reply {
	ep, fail := r.resolve(ctx, chat, args)
	if fail != nil {
		return fail
	}
	return r.actWebLogs(ctx, chat, ep, Token{})
}

func (r *Router) cmdTunnel(ctx context.Context, chat int64, args string) []Reply {
	ep, fail := r.resolve(ctx, chat, args)
	if fail != nil {
		return fail
	}
	if !ep.Caps.ServesHTTP {
		return []Reply{wrongKind(ep, model.KindWeb)}
	}
	if !ep.Running() {
		return []Reply{notRunning(ep)}
	}
	url, err := r.opts.Tunnels.Open(ctx, ep.Connection.Host, ep.Connection.Port)
	if err != nil {
		return []Reply{renderError(err)}
	}
	return []Reply{{
		Text:     fmt.Sprintf("🌍 *Túnel abierto - #%d*\n\n[Abrir Web](%s)\n_URL válida mientras el servicio esté activo_", ep.Ordinal, url),
		Markdown: true,
		Buttons: [][]Button{
			{{Text: "🌍 Abrir Web Pública", URL: url}},
			{tokenButton("🔒 Cerrar Túnel", NewToken(actCloseTunnel, ep, ""))},
		},
	}}
}

func (r *Router) cmdClose(ctx context.Context, chat int64, args string) []Reply {
	ep, fail := r.resolve(ctx, chat, args)
	if fail != nil {
		return fail
	}
	return r.actCloseTunnel(ctx, chat, ep, Token{})
}

// lifecycle runs a start, stop or restart and renders the refreshed state.
func (r *Router) lifecycle(ctx context.Context, ep *model.Endpoint, op string) []Reply {
	if err := managed(ep); err != nil {
		return []Reply{renderError(err)}
	}
	rt, err := r.runtime()
	if err != nil {
		return []Reply{renderError(err)}
	}

	verb := "reiniciado"
	switch op {
	case actStart:
		verb = "iniciado"
		err = rt.Start(ctx, ep.Name)
	case actStop:
		verb = "detenido"
		err = rt.Stop(ctx, ep.Name)
	default:
		err = rt.Restart(ctx, ep.Name)
	}
	if err != nil {
		return []Reply{renderError(err)}
	}
	r.log.Info("lifecycle", "op", op, "server", ep.Name)

	updated := r.refresh(ctx, ep)
	reply := Reply{Text: fmt.Sprintf("✅ Servidor *#%d* %s.", updated.Ordinal, verb), Markdown: true}
	if op != actStop {
		reply.Buttons = serverButtons(updated)
	}
	return []Reply{reply}
}

// refresh returns ep as seen by a fresh snapshot, or ep itself if it can no
// longer be found.
func (r *Router) refresh(ctx context.Context, ep *model.Endpoint) *model.Endpoint {
	snap, err := r.opts.Registry.List(ctx)
	if err != nil {
		return ep
	}
	for _, cur := range snap.Endpoints() {
		if cur.ID == ep.ID {
			return &cur
		}
	}
	return ep
}

func (r *Router) tunnelLine(ctx context.Context, ep *model.Endpoint) (string, string) {
	if !r.opts.Tunnels.Configured() {
		return "\n_Configura NGROK_AUTHTOKEN para acceso público_", ""
	}
	url, err := r.opts.Tunnels.Open(ctx, ep.Connection.Host, ep.Connection.Port)
	if err != nil {
		if errors.Is(err, apperr.ErrConfigurationMissing) {
			return "\n_Configura NGROK_AUTHTOKEN para acceso público_", ""
		}
		r.log.Warn("tunnel open failed", "server", ep.Name, "error", err)
		return "\n⚠️ _No se pudo crear el túnel_", ""
	}
	return fmt.Sprintf("\n🌍 *Acceso Público:* [Abrir Web](%s)\n_URL válida mientras el servicio esté activo_", url), url
}

func (r *Router) localURL(ep *model.Endpoint) string {
	if ep.Origin == model.OriginCustom {
		return "http://" + ep.Connection.Addr()
	}
	return r.opts.LocalWebURL
}
