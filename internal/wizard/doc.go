// Package wizard is the interactive provisioning flow behind
// "improvctl wizard", built with Bubble Tea.
//
// # Screens
//
//   - Connecting: identify handshake with a spinner
//   - Authorize: shown while the device waits for a button press
//   - Networks: device info card and the scanned network list with signal
//     bars and a lock flag; the last entry is "Join other…"
//   - Manual SSID: free-form network name, also used when the firmware
//     cannot scan
//   - Password: skipped for open networks picked from the list
//   - Provisioning: spinner until the device reports PROVISIONED
//   - Success: redirect URL, if the device sent one
//   - Error: fatal session failures such as a disconnect
//
// A device error during provisioning ("Unable to connect") or a timeout is
// not fatal: the wizard returns to the form and shows the reason above it,
// so the user can fix the password and retry.
//
// # Async work
//
// Every client call runs in a tea.Cmd and reports back with a message.
// Client events are read one at a time from the subscription channel and
// re-armed after each message, so a disconnect lands on the Error screen
// even while a command is pending.
//
// # Testing
//
// Model.Update is pure over its messages. Tests feed initializedMsg,
// scanMsg, provisionedMsg and key presses directly and inspect Screen and
// Result, with a fake Provisioner for the commands themselves.
package wizard
