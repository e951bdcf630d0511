package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/cloudops/autobot/common/redact"
	"github.com/cloudops/autobot/internal/autobot/config"
	"github.com/cloudops/autobot/internal/autobot/dispatch"
	"github.com/cloudops/autobot/internal/autobot/gate"
	"github.com/cloudops/autobot/internal/autobot/provisioning"
	"github.com/cloudops/autobot/internal/autobot/routing"
)

// Poster posts a message to a chat room.
type Poster interface {
	SendMessage(roomID, message string) (string, error)
}

// Dispatcher submits one path test.
type Dispatcher interface {
	Dispatch(ctx context.Context, users []string, kind dispatch.TestKind, stackLabel, channelID string) (*dispatch.Tracking, error)
}

// Prompter renders an approve/deny prompt for a destructive action.
type Prompter interface {
	Prompt(ctx context.Context, roomID, text, kind string, params []string) error
}

// Directory is one stack's SMS routing directory.
type Directory interface {
	Lookup(ctx context.Context, country string) (*routing.Pair, error)
	Swap(ctx context.Context, country string) error
	Close(ctx context.Context) error
}

// DirectoryOpener opens the routing directory behind a Mongo URI. Connections
// are opened per command and closed when it finishes.
type DirectoryOpener func(ctx context.Context, uri, database, collection string) (Directory, error)

// Provisioner runs a vendor on/offboarding sequence.
type Provisioner interface {
	Run(ctx context.Context, op provisioning.Op, u provisioning.User, post provisioning.Poster) *provisioning.Report
}

// NetworkTester runs a TelQ round.
type NetworkTester interface {
	Run(ctx context.Context, stackLabel, countryCode string, post func(string)) error
}

// Handlers implements every AutoBot keyword.
type Handlers struct {
	cfg        *config.Config
	chat       Poster
	dispatcher Dispatcher
	gate       Prompter
	openDir    DirectoryOpener
	// provision and telq are nil when the deployment has no vendor or TelQ
	// credentials; the keywords then answer with a not-configured notice.
	provision Provisioner
	telq      NetworkTester
	botUserID string
}

// NewHandlers wires the keyword handlers.
func NewHandlers(cfg *config.Config, chat Poster, dispatcher Dispatcher, prompter Prompter, openDir DirectoryOpener, provision Provisioner, telq NetworkTester, botUserID string) *Handlers {
	return &Handlers{
		cfg:        cfg,
		chat:       chat,
		dispatcher: dispatcher,
		gate:       prompter,
		openDir:    openDir,
		provision:  provision,
		telq:       telq,
		botUserID:  botUserID,
	}
}

// Register installs every keyword on the router.
func (h *Handlers) Register(r *Router) {
	r.Register("help", h.Help)
	r.Register("test", h.Test)
	r.Register("rollout", h.Rollout)
	r.Register("primary", h.Primary)
	r.Register("onboard", h.Onboard)
	r.Register("offboard", h.Offboard)
	r.Register("telq", h.TelQ)
}

const mainHelp = `Hello! I am AutoBot, the Ops utility bot. I can help with several functions. Invoke me again followed by one of these keywords:
- test: send SMS, Voice and Email test notifications (and test confirmation functionality).
- rollout: fire all possible path tests to yourself at once.
- primary: check current primary/secondary SMS providers.
- primary switch: switch primary/secondary SMS providers (NOC use only).
- telq: send SMS tests to TelQ test endpoints (NOC use only).
- onboard: onboard a team member across the vendor tools (NOC use only).
- offboard: offboard a team member across the vendor tools (NOC use only).
- help: print this message.

Any keyword followed by "help" prints details for that keyword.`

const testHelp = `The "test" keyword sends SMS, Voice and Email test notifications and exercises the confirmation flow.
Follow the keyword with one or more paths: sms, voice, email. Optionally add stacks (US, EU; defaults to US, two at most) and mention other users to include them. You are always included yourself.
If a recipient confirms a notification I will report the confirmation here.
Examples:
  test sms
  test voice eu
  test sms voice us eu @colleague:example.com
Besides the keyword itself, option order and capitalization do not matter.`

const rolloutHelp = `The "rollout" keyword fires all possible test notifications at once: SMS, Voice and Email from every configured stack, to you only. It takes no further arguments.`

const primaryHelp = `The "primary" keyword looks up the primary and secondary SMS providers for a country on a stack:
  primary STACK CC
where STACK is a configured stack (US, EU) and CC is the 2-letter country code.
(NOC use only) Insert "switch" to swap the primary and secondary in the database:
  primary switch STACK CC
The SMS connectors must be restarted manually to pick up a switch. Arguments must be in order; capitalization does not matter.`

const telqHelp = `(NOC use only) The "telq" keyword sends test SMS messages to real SIM endpoints around the world through TelQ:
  telq STACK CC
One test per available non-ported network is sent. Results are read on the TelQ site, not here.`

const onboardHelp = `(NOC use only) The "onboard" keyword creates a user across the vendor tools (Datadog, AlertSite, SumoLogic, DigiCert):
  onboard FIRST LAST [EMAIL]
The email defaults to first.last@ the team domain. Only read-only roles are granted; elevated permissions stay manual.`

const offboardHelp = `(NOC use only) The "offboard" keyword removes a user from the vendor tools (Datadog, AlertSite, SumoLogic, DigiCert):
  offboard FIRST LAST [EMAIL]
The email defaults to first.last@ the team domain. You will be asked to confirm before anything is touched.`

// Help prints the main help message.
func (h *Handlers) Help(_ context.Context, _ *Command, _ *event.Event) (string, error) {
	return mainHelp, nil
}

// Test sends path tests per requested kind and stack.
func (h *Handlers) Test(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if wantsHelp(cmd.Args) {
		return testHelp, nil
	}
	sender := evt.Sender.String()
	room := evt.RoomID.String()

	kinds, stacks, extra, bad := h.parseTestOptions(cmd.Args)
	if len(bad) > 0 {
		return fmt.Sprintf("Sorry, you included invalid options: %s\nValid options are sms, voice and email, plus a stack (%s) and mentions of extra users. No message has been sent.",
			strings.Join(bad, ", "), strings.Join(h.cfg.StackNames(), ", ")), nil
	}
	if len(kinds) == 0 {
		return `You don't seem to have specified a path. Valid options are sms, voice and email.`, nil
	}
	if len(stacks) > 2 {
		return fmt.Sprintf("You entered more than 2 stack options (%s). To avoid excessive messages only 2 are accepted. No message has been sent.",
			strings.Join(stacks, ", ")), nil
	}
	if len(stacks) == 0 {
		stacks = []string{"US"}
	}

	users := h.recipientList(sender, extra)
	h.runTests(ctx, room, users, kinds, stacks)
	return "", nil
}

// Rollout fires every kind from every stack to the invoker.
func (h *Handlers) Rollout(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if wantsHelp(cmd.Args) {
		return rolloutHelp, nil
	}
	if len(cmd.Args) > 0 {
		return `The "rollout" keyword takes no arguments.`, nil
	}

	kinds := []dispatch.TestKind{dispatch.SMS, dispatch.Voice, dispatch.Email}
	h.runTests(ctx, evt.RoomID.String(), []string{evt.Sender.String()}, kinds, h.cfg.StackNames())
	return "", nil
}

// runTests dispatches kind × stack combinations independently: a failure in
// one combination is reported and the rest still go out.
func (h *Handlers) runTests(ctx context.Context, room string, users []string, kinds []dispatch.TestKind, stacks []string) {
	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = k.Display()
	}
	h.post(room, fmt.Sprintf("Sending a test message on path(s) %s to %s from stack(s) %s.",
		strings.Join(kindNames, ", "), strings.Join(users, ", "), strings.Join(stacks, ", ")))

	type sent struct {
		stack string
		kind  dispatch.TestKind
		url   string
	}
	var results []sent
	failed := false

	for _, kind := range kinds {
		for _, stack := range stacks {
			tracking, err := h.dispatcher.Dispatch(ctx, users, kind, stack, room)
			if err != nil {
				failed = true
				h.post(room, fmt.Sprintf("Error sending %s from %s stack:\n%s", kind.Display(), stack, h.errorMessage(err)))
				if tracking == nil {
					continue
				}
				// StoreUnavailable: the test went out, keep its report link.
			}
			results = append(results, sent{stack: stack, kind: kind, url: tracking.DeliveryURL})
		}
	}

	if failed {
		h.post(room, "One or more errors occurred, see above. Any paths that did not report an error were successfully sent!")
		return
	}
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("%s stack %s: %s", r.stack, r.kind.Display(), r.url)
	}
	h.post(room, "Successfully sent all requested notifications! I will let you know if and when I receive confirmations.\nDelivery reports:\n"+strings.Join(lines, "\n"))
}

// parseTestOptions classifies the free-order test tokens. Matrix user IDs
// become extra recipients, everything unrecognized lands in bad.
func (h *Handlers) parseTestOptions(args []string) (kinds []dispatch.TestKind, stacks, users, bad []string) {
	seenKind := map[dispatch.TestKind]bool{}
	seenStack := map[string]bool{}
	for _, tok := range args {
		switch {
		case strings.HasPrefix(tok, "@") && strings.Contains(tok, ":"):
			users = append(users, tok)
		default:
			if kind, ok := dispatch.ParseTestKind(tok); ok {
				if !seenKind[kind] {
					seenKind[kind] = true
					kinds = append(kinds, kind)
				}
				continue
			}
			if _, ok := h.cfg.Stack(tok); ok {
				label := strings.ToUpper(tok)
				if !seenStack[label] {
					seenStack[label] = true
					stacks = append(stacks, label)
				}
				continue
			}
			bad = append(bad, tok)
		}
	}
	return kinds, stacks, users, bad
}

// recipientList is the invoker plus mentioned users, deduplicated, with the
// bot itself filtered out.
func (h *Handlers) recipientList(sender string, extra []string) []string {
	out := []string{sender}
	seen := map[string]bool{sender: true, h.botUserID: true}
	for _, u := range extra {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Primary looks up or (gated) switches a country's SMS routing.
func (h *Handlers) Primary(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if wantsHelp(cmd.Args) {
		return primaryHelp, nil
	}
	args := cmd.Args

	if len(args) > 0 && strings.EqualFold(args[0], "switch") {
		return h.primarySwitch(ctx, args[1:], evt)
	}

	stackLabel, country, errMsg := h.parseStackCountry(args, "primary US IN")
	if errMsg != "" {
		return errMsg, nil
	}

	dir, closeDir, errMsg := h.openDirectory(ctx, stackLabel)
	if errMsg != "" {
		return errMsg, nil
	}
	defer closeDir()

	pair, err := dir.Lookup(ctx, country)
	if err != nil {
		return h.routingError(country, err), nil
	}

	room := evt.RoomID.String()
	name := country
	if pair.Primary != nil {
		name = pair.Primary.CountryName
	} else if pair.Secondary != nil {
		name = pair.Secondary.CountryName
	}
	h.post(room, fmt.Sprintf("Provider information for %s in the %s stack:", name, stackLabel))
	if pair.Primary == nil {
		h.post(room, "I could not locate a primary vendor (seq 1).")
	} else {
		h.post(room, fmt.Sprintf("Primary: %s. MT code: %s. Last modified: %s", pair.Primary.Vendor, pair.Primary.MTCode, pair.Primary.LastModified.Format("2006-01-02 15:04:05 MST")))
	}
	if pair.Secondary == nil {
		h.post(room, "I could not locate a secondary vendor (seq 2).")
	} else {
		h.post(room, fmt.Sprintf("Secondary: %s. MT code: %s. Last modified: %s", pair.Secondary.Vendor, pair.Secondary.MTCode, pair.Secondary.LastModified.Format("2006-01-02 15:04:05 MST")))
	}
	return "This is what is in the database. I cannot guarantee the connectors are respecting this preference.", nil
}

func (h *Handlers) primarySwitch(ctx context.Context, args []string, evt *event.Event) (string, error) {
	if !h.cfg.IsNOC(evt.Sender.String()) {
		return "Sorry, switching SMS providers is restricted to the NOC team.", nil
	}
	stackLabel, country, errMsg := h.parseStackCountry(args, "primary switch US IN")
	if errMsg != "" {
		return errMsg, nil
	}

	text := fmt.Sprintf("You are about to switch the primary and secondary SMS providers for %s on the %s stack. The connectors need a manual restart afterwards. Approve?", country, stackLabel)
	if err := h.gate.Prompt(ctx, evt.RoomID.String(), text, gate.KindRoutingSwitch, []string{stackLabel, country}); err != nil {
		return "", fmt.Errorf("prompt routing switch: %w", err)
	}
	return "", nil
}

// ExecuteRoutingSwitch is the gate executor for an approved primary switch.
// params are the prompt payload: stack label, country code.
func (h *Handlers) ExecuteRoutingSwitch(ctx context.Context, roomID string, params []string) {
	if len(params) != 2 {
		h.post(roomID, fmt.Sprintf("I could not decode the approved switch request (%v). Nothing was changed.", params))
		return
	}
	stackLabel, country := strings.ToUpper(params[0]), strings.ToUpper(params[1])

	dir, closeDir, errMsg := h.openDirectory(ctx, stackLabel)
	if errMsg != "" {
		h.post(roomID, errMsg)
		return
	}
	defer closeDir()

	if err := dir.Swap(ctx, country); err != nil {
		h.post(roomID, fmt.Sprintf("I encountered an error updating the routing database:\n%s\nSome records may already have been switched; run primary %s %s to check the current state.",
			h.errorMessage(err), stackLabel, country))
		return
	}
	h.post(roomID, fmt.Sprintf("Done! Primary and secondary SMS providers for %s on the %s stack have been switched. The SMS connectors still require a manual restart to pick this up.", country, stackLabel))
}

// Onboard provisions a user across the vendor tools. Unlike offboarding this
// runs immediately: creating read-only accounts is cheap to undo.
func (h *Handlers) Onboard(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if wantsHelp(cmd.Args) {
		return onboardHelp, nil
	}
	if !h.cfg.IsNOC(evt.Sender.String()) {
		return "Sorry, onboarding is restricted to the NOC team.", nil
	}
	if h.provision == nil {
		return "On/offboarding is not configured on this deployment.", nil
	}
	user, errMsg := h.parseUser(cmd.Args, "onboard jane doe")
	if errMsg != "" {
		return errMsg, nil
	}

	room := evt.RoomID.String()
	h.post(room, fmt.Sprintf("Starting onboarding of %s (%s) across the vendor tools. This takes a moment.", user.FullName(), user.Email))
	report := h.provision.Run(ctx, provisioning.OpOnboard, user, func(m string) { h.post(room, m) })
	return report.Summary(provisioning.OpOnboard, user), nil
}

// Offboard asks for confirmation, then removes the user on approval.
func (h *Handlers) Offboard(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if wantsHelp(cmd.Args) {
		return offboardHelp, nil
	}
	if !h.cfg.IsNOC(evt.Sender.String()) {
		return "Sorry, offboarding is restricted to the NOC team.", nil
	}
	if h.provision == nil {
		return "On/offboarding is not configured on this deployment.", nil
	}
	user, errMsg := h.parseUser(cmd.Args, "offboard jane doe")
	if errMsg != "" {
		return errMsg, nil
	}

	text := fmt.Sprintf("You are about to offboard %s (%s) from all vendor tools. Approve?", user.FullName(), user.Email)
	params := []string{user.FirstName, user.LastName, user.Email}
	if err := h.gate.Prompt(ctx, evt.RoomID.String(), text, gate.KindOffboard, params); err != nil {
		return "", fmt.Errorf("prompt offboard: %w", err)
	}
	return "", nil
}

// ExecuteOffboard is the gate executor for an approved offboard. params are
// the prompt payload: first name, last name, email.
func (h *Handlers) ExecuteOffboard(ctx context.Context, roomID string, params []string) {
	if len(params) != 3 {
		h.post(roomID, fmt.Sprintf("I could not decode the approved offboard request (%v). Nothing was changed.", params))
		return
	}
	user := provisioning.User{FirstName: params[0], LastName: params[1], Email: params[2]}

	h.post(roomID, fmt.Sprintf("Offboarding %s (%s) from the vendor tools.", user.FullName(), user.Email))
	report := h.provision.Run(ctx, provisioning.OpOffboard, user, func(m string) { h.post(roomID, m) })
	h.post(roomID, report.Summary(provisioning.OpOffboard, user))
}

// TelQ runs a TelQ network test round.
func (h *Handlers) TelQ(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if wantsHelp(cmd.Args) {
		return telqHelp, nil
	}
	if !h.cfg.IsNOC(evt.Sender.String()) {
		return "Sorry, TelQ testing is restricted to the NOC team.", nil
	}
	if h.telq == nil {
		return "TelQ testing is not configured on this deployment.", nil
	}
	stackLabel, country, errMsg := h.parseStackCountry(cmd.Args, "telq US IN")
	if errMsg != "" {
		return errMsg, nil
	}

	room := evt.RoomID.String()
	if err := h.telq.Run(ctx, stackLabel, country, func(m string) { h.post(room, m) }); err != nil {
		return fmt.Sprintf("I could not run the TelQ round: %s", h.errorMessage(err)), nil
	}
	return "", nil
}

// parseStackCountry validates the STACK CC argument pair shared by several
// keywords. Returns an operator-facing message when the input is off.
func (h *Handlers) parseStackCountry(args []string, example string) (stackLabel, country, errMsg string) {
	if len(args) != 2 {
		return "", "", fmt.Sprintf("This keyword takes exactly 2 arguments: a stack (%s) and a 2-letter country code.\nExample: %s",
			strings.Join(h.cfg.StackNames(), ", "), example)
	}
	if _, ok := h.cfg.Stack(args[0]); !ok {
		return "", "", fmt.Sprintf("You specified an invalid stack %q. Valid options are %s.", args[0], strings.Join(h.cfg.StackNames(), ", "))
	}
	if len(args[1]) != 2 {
		return "", "", fmt.Sprintf("You must specify the 2-letter country code.\nExample: %s", example)
	}
	return strings.ToUpper(args[0]), strings.ToUpper(args[1]), ""
}

// parseUser validates FIRST LAST [EMAIL] and applies the email default.
func (h *Handlers) parseUser(args []string, example string) (provisioning.User, string) {
	if len(args) < 2 || len(args) > 3 {
		return provisioning.User{}, fmt.Sprintf("This keyword takes a first name, a last name and optionally an email.\nExample: %s", example)
	}
	first, last := args[0], args[1]

	email := strings.ToLower(first + "." + last + "@" + h.cfg.EmailDomain)
	if len(args) == 3 {
		email = strings.ToLower(args[2])
	}
	if !strings.HasSuffix(email, "@"+h.cfg.EmailDomain) {
		return provisioning.User{}, fmt.Sprintf("I can only manage users on the %s domain.", h.cfg.EmailDomain)
	}
	if h.cfg.IsProtected(email) {
		return provisioning.User{}, fmt.Sprintf("%s is a protected account and cannot be on- or offboarded from chat.", email)
	}
	return provisioning.User{FirstName: first, LastName: last, Email: email}, ""
}

func (h *Handlers) openDirectory(ctx context.Context, stackLabel string) (Directory, func(), string) {
	stack, ok := h.cfg.Stack(stackLabel)
	if !ok || stack.MongoURI == "" {
		return nil, nil, fmt.Sprintf("I cannot look up SMS routing on the %s stack, it has no routing database configured.", stackLabel)
	}
	dir, err := h.openDir(ctx, stack.MongoURI, h.cfg.RoutingDatabase, h.cfg.RoutingCollection)
	if err != nil {
		return nil, nil, "I have encountered an error connecting to the routing database. I'm unable to proceed."
	}
	return dir, func() {
		if err := dir.Close(ctx); err != nil {
			slog.Warn("routing directory close failed", "err", err)
		}
	}, ""
}

func (h *Handlers) routingError(country string, err error) string {
	if errors.Is(err, routing.ErrCountryNotFound) {
		return fmt.Sprintf("I don't seem to be able to find an SMS routing entry for %s. I'm unable to proceed.", country)
	}
	return fmt.Sprintf("I have encountered an error reading the routing database:\n%s", h.errorMessage(err))
}

// errorMessage renders an error for chat, preferring the dispatch taxonomy's
// operator text and scrubbing credentials out of quoted upstream payloads.
func (h *Handlers) errorMessage(err error) string {
	msg := err.Error()
	var de *dispatch.Error
	if errors.As(err, &de) {
		msg = de.Message()
	}
	return redact.String(msg, h.cfg.Secrets()...)
}

func (h *Handlers) post(roomID, message string) {
	if _, err := h.chat.SendMessage(roomID, message); err != nil {
		slog.Error("chat post failed", "room", roomID, "err", err)
	}
}

func wantsHelp(args []string) bool {
	return len(args) > 0 && strings.EqualFold(args[0], "help")
}
