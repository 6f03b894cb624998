package bot

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/container"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	"github.com/obot-platform/fleetdeck/server/internal/model"
	"github.com/obot-platform/fleetdeck/server/internal/registry"
	"github.com/obot-platform/fleetdeck/server/internal/session"
)

// Output limits for chat messages.
const (
	MaxCommandOutput = 3000
	MaxLogOutput     = 3500

	maxListedDirs  = 10
	maxListedFiles = 15
	maxDirButtons  = 6
	barCells       = 10
)

const (
	labelServers = "📋 Lista de Servidores"
	labelHelp    = "❓ Ayuda"
)

var mainKeyboard = [][]string{{labelServers}, {labelHelp}}

const welcomeText = `🖥️ *Server Manager Bot*

¡Bienvenido! Controla tus servidores desde aquí.

*Comandos rápidos:*
• /servers → Ver lista de servidores
• /ssh 1 comando → Ejecutar en SSH
• /ftp 2 → Gestionar archivos FTP
• /web 3 → Ver servidor web

O usa los botones del menú 👇`

const helpText = `📋 *Comandos Disponibles*

*Control de Servidores:*
🔹 /servers → Lista de servidores
🔹 /status <#> → Estado del servidor
🔹 /start <#> → Iniciar servidor
🔹 /stop <#> → Detener servidor
🔹 /restart <#> → Reiniciar servidor
🔹 /stats <#> → Ver estadísticas

*SSH:*
🔹 /ssh <#> <comando> → Ejecutar comando
   _Ejemplo:_ ` + "`/ssh 1 ls -la`" + `

*FTP:*
🔹 /ftp <#> [ruta] → Ver archivos
🔹 /download <#> → Descargar archivo
🔹 Envía una foto/archivo para subirlo

*Web:*
🔹 /web <#> → Estado de Nginx y túnel público
🔹 /logs <#> → Ver logs de acceso
🔹 /tunnel <#> → Abrir túnel público
🔹 /close <#> → Cerrar túnel`

func kindEmoji(k model.Kind) string {
	switch k {
	case model.KindShell:
		return "🔐"
	case model.KindFTP:
		return "📁"
	case model.KindWeb:
		return "🌐"
	}
	return "🖥️"
}

func kindDescription(k model.Kind) string {
	switch k {
	case model.KindShell:
		return "SSH - Terminal remoto"
	case model.KindFTP:
		return "FTP - Archivos"
	case model.KindWeb:
		return "Web - Servidor HTTP"
	}
	return string(k)
}

func stateIcon(s model.State) string {
	switch s {
	case model.StateRunning:
		return "🟢"
	case model.StateStopped:
		return "🔴"
	}
	return "⚪"
}

// ProgressBar renders percent as a fixed-width bar of filled and empty cells.
func ProgressBar(percent float64) string {
	filled := int(math.Round(percent / 100 * barCells))
	filled = max(0, min(barCells, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", barCells-filled)
}

// Indicator maps a usage percentage to a traffic-light emoji.
func Indicator(percent float64) string {
	switch {
	case percent >= 90:
		return "🔴"
	case percent >= 70:
		return "🟠"
	case percent >= 50:
		return "🟡"
	}
	return "🟢"
}

// Truncate keeps the first limit characters of s.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "\n… (truncado)"
}

// codeBlock fences s, defusing embedded fences.
func codeBlock(s string) string {
	return "```\n" + strings.ReplaceAll(s, "```", "'''") + "\n```"
}

func renderServerList(snap *registry.Snapshot) Reply {
	eps := snap.Endpoints()
	if len(eps) == 0 {
		text := "❌ No se encontraron servidores."
		if snap.EngineErr != nil {
			text += "\n⚠️ Motor de contenedores no disponible."
		}
		return Reply{Text: text}
	}

	var b strings.Builder
	b.WriteString("🖥️ *Servidores Disponibles*\n\n")
	buttons := make([][]Button, 0, len(eps))
	for i := range eps {
		ep := &eps[i]
		fmt.Fprintf(&b, "*%d.* %s %s `%s`\n", ep.Ordinal, stateIcon(ep.State), kindEmoji(ep.Kind), ep.Name)
		buttons = append(buttons, []Button{
			tokenButton(fmt.Sprintf("%s #%d %s %s", stateIcon(ep.State), ep.Ordinal, kindEmoji(ep.Kind), ep.Name), NewToken(actSelect, ep, "")),
		})
	}
	if snap.EngineErr != nil {
		b.WriteString("\n⚠️ _Motor de contenedores no disponible; solo se muestran servidores personalizados_\n")
	}
	b.WriteString("\n_Toca un servidor para ver opciones_")
	return Reply{Text: b.String(), Markdown: true, Buttons: buttons}
}

func renderStatus(ep *model.Endpoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *Servidor #%d*\n\n", stateIcon(ep.State), ep.Ordinal)
	fmt.Fprintf(&b, "%s *Tipo:* %s\n", kindEmoji(ep.Kind), kindDescription(ep.Kind))
	fmt.Fprintf(&b, "📛 *Nombre:* `%s`\n", ep.Name)
	if ep.Origin == model.OriginCustom {
		fmt.Fprintf(&b, "🔗 *Dirección:* `%s`\n", ep.Connection.Addr())
	}
	fmt.Fprintf(&b, "📊 *Estado:* %s\n", ep.State)
	if ep.Status != "" {
		fmt.Fprintf(&b, "⏱️ *Status:* %s\n", ep.Status)
	}
	if r := ep.Resources; r != nil && (r.CPULimit > 0 || r.MemoryLimitMB > 0) {
		fmt.Fprintf(&b, "⚙️ *Límites:* CPU %s · RAM %s\n", cpuLabel(r.CPULimit), memLabel(r.MemoryLimitMB))
	}
	return b.String()
}

func cpuLabel(cores float64) string {
	if cores <= 0 {
		return "sin límite"
	}
	return fmt.Sprintf("%.2f", cores)
}

func memLabel(mb int64) string {
	if mb <= 0 {
		return "sin límite"
	}
	return fmt.Sprintf("%d MB", mb)
}

// serverButtons returns the action keyboard for ep.
func serverButtons(ep *model.Endpoint) [][]Button {
	var rows [][]Button
	if ep.Origin == model.OriginContainer {
		rows = append(rows, []Button{
			tokenButton("▶️ Iniciar", NewToken(actStart, ep, "")),
			tokenButton("⏹️ Detener", NewToken(actStop, ep, "")),
		})
	}
	second := []Button{tokenButton("🔄 Actualizar", NewToken(actStatus, ep, ""))}
	if ep.Control != nil {
		second = append([]Button{tokenButton("📊 Stats", NewToken(actStats, ep, ""))}, second...)
	}
	rows = append(rows, second)

	switch {
	case ep.Caps.RunsCommands:
		rows = append(rows, []Button{tokenButton("💻 Ejecutar Comando", NewToken(actSSH, ep, ""))})
	case ep.Caps.BrowsesFiles:
		rows = append(rows, []Button{
			tokenButton("📂 Ver Archivos", NewToken(actFTPList, ep, "")),
			tokenButton("📤 Subir Archivo", NewToken(actFTPUpload, ep, "")),
		})
	case ep.Caps.ServesHTTP:
		rows = append(rows, []Button{
			tokenButton("🌐 Estado Nginx", NewToken(actWebStatus, ep, "")),
			tokenButton("📋 Ver Logs", NewToken(actWebLogs, ep, "")),
		})
	}
	return rows
}

func renderStats(ep *model.Endpoint, s *gateway.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Estadísticas - Servidor #%d*\n`%s`\n", ep.Ordinal, ep.Name)
	metric := func(icon, label, key string, v float64) {
		fmt.Fprintf(&b, "\n%s *%s*\n", icon, label)
		if _, failed := s.Errors[key]; failed {
			b.WriteString("⚪ _no disponible_\n")
			return
		}
		fmt.Fprintf(&b, "%s %s *%.1f%%*\n", Indicator(v), ProgressBar(v), v)
	}
	metric("💻", "CPU", gateway.MetricCPU, s.CPUPercent)
	metric("🧠", "Memoria RAM", gateway.MetricMemory, s.MemoryPercent)
	metric("💾", "Disco", gateway.MetricDisk, s.DiskPercent)
	return b.String()
}

func renderListing(l *session.Listing) Reply {
	ep := &l.Endpoint
	var b strings.Builder
	fmt.Fprintf(&b, "📂 *Archivos FTP - #%d*\n📁 Ruta: `%s`\n\n", ep.Ordinal, l.Path)

	if len(l.Dirs) == 0 && len(l.Files) == 0 {
		b.WriteString("_Carpeta vacía_")
	} else {
		for _, d := range l.Dirs[:min(len(l.Dirs), maxListedDirs)] {
			fmt.Fprintf(&b, "📁 `%s/`\n", d.Name)
		}
		if len(l.Dirs) > maxListedDirs {
			fmt.Fprintf(&b, "_... y %d carpetas más_\n", len(l.Dirs)-maxListedDirs)
		}
		if len(l.Dirs) > 0 && len(l.Files) > 0 {
			b.WriteString("\n")
		}
		for i, f := range l.Files[:min(len(l.Files), maxListedFiles)] {
			fmt.Fprintf(&b, "*%d.* 📄 `%s` (%s)\n", i+1, f.Name, sizeLabel(f.Size))
		}
		if len(l.Files) > maxListedFiles {
			fmt.Fprintf(&b, "\n_... y %d archivos más_", len(l.Files)-maxListedFiles)
		}
	}
	b.WriteString("\n\n📥 `/download <#>` · 📤 Envía archivo")

	var rows [][]Button
	var row []Button
	for i, d := range l.Dirs[:min(len(l.Dirs), maxDirButtons)] {
		row = append(row, tokenButton("📁 "+d.Name, NewToken(actFTPCd, ep, navArg(l.Generation, i))))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	refresh := tokenButton("🔄 Actualizar", NewToken(actFTPRefresh, ep, navArg(l.Generation, -1)))
	if l.Path != "/" {
		rows = append(rows, []Button{tokenButton("⬆️ Subir nivel", NewToken(actFTPUp, ep, navArg(l.Generation, -1))), refresh})
	} else {
		rows = append(rows, []Button{refresh})
	}
	return Reply{Text: b.String(), Markdown: true, Buttons: rows}
}

func sizeLabel(size uint64) string {
	return fmt.Sprintf("%.1f KB", float64(size)/1024)
}

func startButton(ep *model.Endpoint) [][]Button {
	return [][]Button{{tokenButton("▶️ Iniciar", NewToken(actStart, ep, ""))}}
}

func notRunning(ep *model.Endpoint) Reply {
	r := Reply{Text: fmt.Sprintf("⚠️ El servidor #%d no está en ejecución.", ep.Ordinal)}
	if ep.Origin == model.OriginContainer {
		r.Buttons = startButton(ep)
	}
	return r
}

func wrongKind(ep *model.Endpoint, want model.Kind) Reply {
	return Reply{Text: fmt.Sprintf("⚠️ El servidor #%d no es de tipo %s.", ep.Ordinal, want.Label())}
}

// renderError turns a classified failure into a user-facing message. Errors
// are sent as plain text since they may contain markup characters.
func renderError(err error) Reply {
	msg := err.Error()
	switch apperr.KindOf(err) {
	case apperr.KindAlreadyInState:
		if errors.Is(err, container.ErrAlreadyRunning) {
			return Reply{Text: "⚠️ El servidor ya está en ejecución."}
		}
		if errors.Is(err, container.ErrNotRunning) {
			return Reply{Text: "⚠️ El servidor ya está detenido."}
		}
		return Reply{Text: "⚠️ " + msg}
	case apperr.KindNotFound:
		return Reply{Text: "❌ No encontrado: " + msg}
	case apperr.KindInvalidInput:
		return Reply{Text: "⚠️ " + msg}
	case apperr.KindConfigurationMissing:
		return Reply{Text: "⚙️ Falta configuración: " + msg}
	case apperr.KindConnectionFailure:
		return Reply{Text: fmt.Sprintf("❌ Error de conexión (%s): %s", reasonLabel(apperr.ReasonOf(err)), msg)}
	}
	return Reply{Text: "❌ Error: " + msg}
}

func reasonLabel(r apperr.Reason) string {
	switch r {
	case apperr.ReasonConnectionRefused:
		return "conexión rechazada"
	case apperr.ReasonAuthenticationFailed:
		return "autenticación fallida"
	case apperr.ReasonTimeout:
		return "tiempo agotado"
	}
	return "error de protocolo"
}
