package wizard

import (
	"fmt"
	"strings"

	"github.com/muurk/improvctl/internal/ui"
)

// View renders the active screen inside the application frame.
func (m Model) View() string {
	var content string
	switch m.screen {
	case ScreenConnecting:
		content = m.renderProgress("Connecting")
	case ScreenAuthorize:
		content = m.renderAuthorize()
	case ScreenNetworks:
		content = m.renderNetworks()
	case ScreenManualSSID:
		content = m.renderManualSSID()
	case ScreenPassword:
		content = m.renderPassword()
	case ScreenProvisioning:
		content = m.renderProgress(fmt.Sprintf("Provisioning %q", m.selected))
	case ScreenSuccess:
		content = m.renderSuccess()
	case ScreenError:
		content = m.renderError()
	}

	return renderContainer(content, m.help.View(m.helpKeys()), m.opts.Port, m.width)
}

func (m Model) renderProgress(label string) string {
	return m.spinner.View() + " " + label + "…"
}

func (m Model) renderDeviceInfo() string {
	if !m.identified {
		return ""
	}
	return renderCard("ⓘ Device Info", ui.DeviceInfoDetails(m.info), m.width) + "\n"
}

func (m Model) renderNotice() string {
	if text := m.noticeText(); text != "" {
		return NoticeStyle.Render(text) + "\n\n"
	}
	return ""
}

func (m Model) renderAuthorize() string {
	var b strings.Builder
	b.WriteString(m.renderDeviceInfo())
	b.WriteString(TitleStyle.Render("Authorization required"))
	b.WriteString("\n")
	b.WriteString("Press the button on the device to allow it to be configured.\n\n")
	b.WriteString(m.spinner.View() + " Waiting for the device…")
	return b.String()
}

func (m Model) renderNetworks() string {
	var b strings.Builder
	b.WriteString(m.renderDeviceInfo())
	b.WriteString(TitleStyle.Render("Configure Wi-Fi"))
	b.WriteString("\n")
	b.WriteString("Choose the Wi-Fi network the device should connect to.\n\n")
	b.WriteString(m.renderNotice())

	if m.scanning {
		b.WriteString(m.spinner.View() + " Scanning for networks…")
		return b.String()
	}
	if len(m.networks) == 0 {
		b.WriteString(SubtitleStyle.Render("No networks found"))
		b.WriteString("\n\n")
	}
	b.WriteString(m.list.View())
	return b.String()
}

func (m Model) renderManualSSID() string {
	var b strings.Builder
	b.WriteString(m.renderDeviceInfo())
	b.WriteString(TitleStyle.Render("Configure Wi-Fi"))
	b.WriteString("\n")
	if m.scanUnavailable {
		b.WriteString(SubtitleStyle.Render("This device cannot list networks."))
		b.WriteString("\n")
	}
	b.WriteString("Enter the credentials of the Wi-Fi network that you want your device to connect to.\n\n")
	b.WriteString(m.renderNotice())
	b.WriteString(FieldLabelStyle.Render("Network Name"))
	b.WriteString("\n")
	b.WriteString(m.ssidInput.View())
	return b.String()
}

func (m Model) renderPassword() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Configure Wi-Fi"))
	b.WriteString("\n")
	b.WriteString(m.renderNotice())
	b.WriteString(FieldLabelStyle.Render("Network") + "  " + m.selected + "\n\n")
	b.WriteString(FieldLabelStyle.Render("Password"))
	b.WriteString("\n")
	b.WriteString(m.passwordInput.View())
	if m.manual {
		b.WriteString("\n\n")
		b.WriteString(SubtitleStyle.Render("Leave empty for an open network."))
	}
	return b.String()
}

func (m Model) renderSuccess() string {
	lines := []string{"🎉 Provisioned!"}
	if m.joined != "" {
		lines = append(lines, "", "Connected to "+m.joined)
	}
	if m.nextURL != "" {
		lines = append(lines, "", "Visit device: "+LinkStyle.Render(m.nextURL))
	}
	return m.renderDeviceInfo() + SuccessStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderError() string {
	message := "An error occurred. " + m.errTitle
	if m.err != nil {
		message += "\n\n" + m.err.Error()
	}
	return ErrorStyle.Render("⚠ " + message)
}
