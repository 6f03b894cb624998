package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

func (r *Router) actStatus(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	return []Reply{{Text: renderStatus(ep), Markdown: true, Buttons: serverButtons(ep)}}
}

func (r *Router) actStart(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	return r.lifecycle(ctx, ep, actStart)
}

func (r *Router) actStop(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	return r.lifecycle(ctx, ep, actStop)
}

func (r *Router) actStats(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	ctl, fail := control(ep)
	if fail != nil {
		return []Reply{*fail}
	}
	stats, err := r.opts.Remote.SystemStats(ctx, *ctl)
	if err != nil {
		return []Reply{renderError(err)}
	}
	return []Reply{{Text: renderStats(ep, stats), Markdown: true, Buttons: serverButtons(ep)}}
}

func (r *Router) actSSH(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	n := ep.Ordinal
	text := fmt.Sprintf("💻 *Modo SSH - Servidor #%d*\n\nPara ejecutar un comando, usa:\n`/ssh %d <comando>`\n\n*Ejemplos:*\n`/ssh %d ls -la`\n`/ssh %d whoami`\n`/ssh %d df -h`",
		n, n, n, n, n)
	return []Reply{{Text: text, Markdown: true}}
}

func (r *Router) actFTPList(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	return r.listDir(ctx, chat, ep, "/")
}

func (r *Router) actFTPUpload(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	if !ep.Caps.BrowsesFiles {
		return []Reply{wrongKind(ep, model.KindFTP)}
	}
	if !ep.Running() {
		return []Reply{notRunning(ep)}
	}
	if _, err := r.opts.Navigator.List(ctx, clientKey(chat), *ep, "/"); err != nil {
		return []Reply{renderError(err)}
	}
	text := fmt.Sprintf("📤 *Modo Subida FTP - #%d*\n\nEnvía una foto o documento para subirlo al servidor FTP.\n\nLos archivos se guardarán en la carpeta `/`", ep.Ordinal)
	return []Reply{{Text: text, Markdown: true}}
}

func (r *Router) actWeb(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	if !ep.Caps.ServesHTTP {
		return []Reply{wrongKind(ep, model.KindWeb)}
	}
	if !ep.Running() {
		return []Reply{notRunning(ep)}
	}

	state, icon := "desconocido", "⚪"
	if ep.Control != nil {
		st, err := r.opts.Remote.NginxStatus(ctx, *ep.Control)
		if err != nil {
			return []Reply{renderError(err)}
		}
		state, icon = "stopped", "🔴"
		if st.Running {
			state, icon = "running", "🟢"
		}
	}
	tunnelText, url := r.tunnelLine(ctx, ep)

	var b strings.Builder
	fmt.Fprintf(&b, "🌐 *Servidor Web - #%d*\n\n", ep.Ordinal)
	fmt.Fprintf(&b, "%s *Estado Nginx:* %s\n\n", icon, state)
	fmt.Fprintf(&b, "🏠 *Acceso Local:* %s%s\n\n", r.localURL(ep), tunnelText)
	fmt.Fprintf(&b, "📋 /logs %d para ver logs de acceso", ep.Ordinal)

	var rows [][]Button
	if url != "" {
		rows = append(rows, []Button{{Text: "🌍 Abrir Web Pública", URL: url}})
	}
	rows = append(rows,
		[]Button{tokenButton("📋 Ver Logs", NewToken(actWebLogs, ep, ""))},
		[]Button{tokenButton("🔄 Actualizar", NewToken(actWebStatus, ep, ""))},
	)
	if url != "" {
		rows = append(rows, []Button{tokenButton("🔒 Cerrar Túnel", NewToken(actCloseTunnel, ep, ""))})
	}
	return []Reply{{Text: b.String(), Markdown: true, Buttons: rows}}
}

func (r *Router) actWebLogs(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	if !ep.Caps.ServesHTTP {
		return []Reply{wrongKind(ep, model.KindWeb)}
	}
	ctl, fail := control(ep)
	if fail != nil {
		return []Reply{*fail}
	}
	logs, err := r.opts.Remote.AccessLogs(ctx, *ctl, logLines)
	if err != nil {
		return []Reply{renderError(err)}
	}
	if strings.TrimSpace(logs) == "" {
		logs = "Sin logs disponibles"
	}
	text := fmt.Sprintf("📋 *Logs de Acceso - #%d*\n\n%s", ep.Ordinal, codeBlock(Truncate(logs, MaxLogOutput)))
	return []Reply{{Text: text, Markdown: true}}
}

// currentListing checks that a navigation button was minted for the chat's
// current listing of ep.
func (r *Router) currentListing(chat int64, ep *model.Endpoint, generation uint64) error {
	l, ok := r.opts.Navigator.Session(clientKey(chat))
	if !ok || l.Generation == 0 {
		return apperr.InvalidInput("navigate", "no active listing; list a directory first")
	}
	if l.Endpoint.ID != ep.ID || l.Generation != generation {
		return apperr.NotFound("navigate", "this listing is out of date; refresh and try again")
	}
	return nil
}

func (r *Router) actFTPCd(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	gen, idx, err := parseNavArg(tok.Arg)
	if err == nil && idx < 0 {
		err = apperr.InvalidInput("navigate", "missing directory reference")
	}
	if err == nil {
		err = r.currentListing(chat, ep, gen)
	}
	if err != nil {
		return []Reply{renderError(err)}
	}
	l, err := r.opts.Navigator.Enter(ctx, clientKey(chat), *ep, idx, gen)
	if err != nil {
		return []Reply{renderError(err)}
	}
	return []Reply{renderListing(l)}
}

func (r *Router) actFTPUp(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	gen, _, err := parseNavArg(tok.Arg)
	if err == nil {
		err = r.currentListing(chat, ep, gen)
	}
	if err != nil {
		return []Reply{renderError(err)}
	}
	l, err := r.opts.Navigator.Up(ctx, clientKey(chat), *ep)
	if err != nil {
		return []Reply{renderError(err)}
	}
	return []Reply{renderListing(l)}
}

func (r *Router) actFTPRefresh(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	gen, _, err := parseNavArg(tok.Arg)
	if err == nil {
		err = r.currentListing(chat, ep, gen)
	}
	if err != nil {
		return []Reply{renderError(err)}
	}
	l, err := r.opts.Navigator.Refresh(ctx, clientKey(chat), *ep)
	if err != nil {
		return []Reply{renderError(err)}
	}
	return withAnswer(renderListing(l), "🔄 Actualizando...")
}

func (r *Router) actCloseTunnel(ctx context.Context, chat int64, ep *model.Endpoint, tok Token) []Reply {
	if err := r.opts.Tunnels.Close(ctx, ep.Connection.Host, ep.Connection.Port); err != nil {
		return withAnswer(renderError(err), "❌ Error al cerrar túnel")
	}
	return withAnswer(Reply{
		Text:     fmt.Sprintf("🔒 *Túnel cerrado*\n\nLa web #%d ya no está expuesta públicamente.", ep.Ordinal),
		Markdown: true,
		Buttons:  [][]Button{{tokenButton("🌐 Reabrir Túnel", NewToken(actWebStatus, ep, ""))}},
	}, "🔒 Túnel cerrado")
}
