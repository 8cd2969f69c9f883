package tg

import (
	"context"
	"strings"

	"github.com/pvzzle/tokenpanel/internal/bus"
	"github.com/pvzzle/tokenpanel/internal/history"
	"github.com/pvzzle/tokenpanel/internal/metrics"
	"github.com/pvzzle/tokenpanel/internal/state"
	"github.com/pvzzle/tokenpanel/internal/token"

	"github.com/ethereum/go-ethereum/common"
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	cbMint        = "mint"
	cbTransfer    = "transfer"
	cbBalance     = "balance"
	cbAllBalances = "all_balances"
	cbPause       = "pause"
	cbOwnership   = "ownership"
	cbBurn        = "burn"
	cbApprove     = "approve"
	cbHistory     = "history"
	cbLogs        = "logs"
	cbNetwork     = "network"
	cbBackToMain  = "back_main"

	cbFilterPrefix = "filter_"
)

// busyKinds maps a menu trigger to the busy flag that disables it.
var busyKinds = map[string]state.BusyKind{
	cbMint:        state.BusyMint,
	cbTransfer:    state.BusyTransfer,
	cbBalance:     state.BusyBalance,
	cbAllBalances: state.BusyBalances,
	cbPause:       state.BusyPause,
	cbOwnership:   state.BusyOwnership,
	cbBurn:        state.BusyBurn,
	cbApprove:     state.BusyApprove,
	cbHistory:     state.BusyHistory,
}

// Sender is the part of the bot the notify loop needs.
type Sender interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
}

type Service struct {
	bot      *tgbot.Bot
	sender   Sender
	sessions *token.Registry
	notifyCh <-chan bus.Notification
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	log      *zap.Logger

	state *StateStore
}

type Options struct {
	// NotifyRPS caps outgoing notices per second; zero means unlimited.
	NotifyRPS float64
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func NewService(
	b *tgbot.Bot,
	sessions *token.Registry,
	notifyCh <-chan bus.Notification,
	opts Options,
) *Service {
	s := newService(b, sessions, notifyCh, opts)
	s.bot = b
	s.registerHandlers()
	return s
}

func newService(sender Sender, sessions *token.Registry, notifyCh <-chan bus.Notification, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if opts.NotifyRPS > 0 {
		limit = rate.Limit(opts.NotifyRPS)
	}
	return &Service{
		sender:   sender,
		sessions: sessions,
		notifyCh: notifyCh,
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  opts.Metrics,
		log:      log.Named("tg"),
		state:    NewStateStore(),
	}
}

func (s *Service) registerHandlers() {
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, s.onStart)
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/transferfrom", tgbot.MatchTypePrefix, s.onTransferFrom)
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/burnfrom", tgbot.MatchTypePrefix, s.onBurnFrom)

	for _, cb := range []string{cbMint, cbTransfer, cbOwnership, cbBurn, cbApprove} {
		s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cb, tgbot.MatchTypeExact, s.onCbPrompt)
	}
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbBalance, tgbot.MatchTypeExact, s.onCbBalance)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbAllBalances, tgbot.MatchTypeExact, s.onCbAllBalances)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbPause, tgbot.MatchTypeExact, s.onCbPause)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbHistory, tgbot.MatchTypeExact, s.onCbHistory)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbFilterPrefix, tgbot.MatchTypePrefix, s.onCbFilter)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbLogs, tgbot.MatchTypeExact, s.onCbLogs)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbNetwork, tgbot.MatchTypeExact, s.onCbNetwork)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbBackToMain, tgbot.MatchTypeExact, s.onCbBackToMain)

	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, s.onAnyText)
}

// StartNotifyLoop delivers session notices until ctx ends.
func (s *Service) StartNotifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.notifyCh:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			_, err := s.sender.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: n.ChatID,
				Text:   FormatNotice(n),
			})
			s.metrics.NoticeSent(n.Severity.String(), err)
			if err != nil {
				s.log.Warn("send notice", zap.Int64("chat_id", n.ChatID), zap.Error(err))
			}
		}
	}
}

// session returns the chat's session, connecting it on first use. A session
// that failed to connect is forgotten so the next interaction retries; the
// failure itself was already reported to the chat.
func (s *Service) session(ctx context.Context, chatID int64) (*token.Session, bool) {
	sess, created := s.sessions.Session(chatID)
	if !created {
		return sess, true
	}
	if !sess.Connect(ctx) {
		s.sessions.Drop(chatID)
		return nil, false
	}
	s.log.Debug("session connected", zap.Int64("chat_id", chatID), zap.Int("sessions", s.sessions.Len()))
	return sess, true
}

func (s *Service) send(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) {
	_, err := s.sender.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	})
	if err != nil {
		s.log.Warn("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// callback answers cb and returns its chat, or false if the message is gone.
func (s *Service) callback(ctx context.Context, b *tgbot.Bot, upd *models.Update, text string) (int64, bool) {
	cb := upd.CallbackQuery
	if cb == nil || cb.Message.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage {
		return 0, false
	}
	_, _ = b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
		Text:            text,
	})
	return cb.Message.Message.Chat.ID, true
}

// trigger answers a menu callback, refusing it while its operation runs.
func (s *Service) trigger(ctx context.Context, b *tgbot.Bot, upd *models.Update) (int64, *token.Session, bool) {
	cb := upd.CallbackQuery
	if cb == nil || cb.Message.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage {
		return 0, nil, false
	}
	chatID := cb.Message.Message.Chat.ID
	sess, ok := s.session(ctx, chatID)
	if !ok {
		s.callback(ctx, b, upd, "")
		return 0, nil, false
	}

	if kind, ok := busyKinds[cb.Data]; ok && sess.State().Busy(kind) {
		s.callback(ctx, b, upd, "Already in progress…")
		return 0, nil, false
	}
	s.callback(ctx, b, upd, "")
	return chatID, sess, true
}

func mainMenu(v state.Snapshot) *models.InlineKeyboardMarkup {
	btn := func(text, data string) models.InlineKeyboardButton {
		if kind, ok := busyKinds[data]; ok && v.Busy[kind] {
			text = "⏳ " + text
		}
		return models.InlineKeyboardButton{Text: text, CallbackData: data}
	}
	pause := "Pause"
	if v.Paused {
		pause = "Unpause"
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{btn("Mint", cbMint), btn("Transfer", cbTransfer), btn("Burn", cbBurn)},
			{btn("Balance", cbBalance), btn("All balances", cbAllBalances), btn("Approve", cbApprove)},
			{btn(pause, cbPause), btn("Ownership", cbOwnership)},
			{btn("History", cbHistory), btn("Logs", cbLogs), btn("Network", cbNetwork)},
		},
	}
}

func backMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Back", CallbackData: cbBackToMain}},
		},
	}
}

func historyMenu(current history.Filter) *models.InlineKeyboardMarkup {
	btn := func(text string, f history.Filter) models.InlineKeyboardButton {
		if f == current {
			text = "• " + text
		}
		return models.InlineKeyboardButton{Text: text, CallbackData: cbFilterPrefix + string(f)}
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{btn("All", history.FilterAll), btn("Incoming", history.FilterIncoming), btn("Outgoing", history.FilterOutgoing)},
			{{Text: "Back", CallbackData: cbBackToMain}},
		},
	}
}

func (s *Service) sendMain(ctx context.Context, chatID int64, sess *token.Session) {
	v := sess.State().Snapshot()
	s.send(ctx, chatID, FormatSummary(v), mainMenu(v))
}

func (s *Service) onStart(ctx context.Context, _ *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	s.state.Set(chatID, StateIdle)
	if sess, ok := s.session(ctx, chatID); ok {
		s.sendMain(ctx, chatID, sess)
	}
}

func (s *Service) onCbBackToMain(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callback(ctx, b, upd, "")
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)
	if sess, ok := s.session(ctx, chatID); ok {
		s.sendMain(ctx, chatID, sess)
	}
}

var prompts = map[string]struct {
	state ChatState
	text  string
}{
	cbMint:      {StateAwaitMintAmount, "Enter the amount to mint:"},
	cbTransfer:  {StateAwaitTransfer, "Enter recipient and amount: <address> <amount>"},
	cbOwnership: {StateAwaitNewOwner, "Enter the new owner address (0x...):"},
	cbBurn:      {StateAwaitBurnAmount, "Enter the amount to burn:"},
	cbApprove:   {StateAwaitApproval, "Enter spender and amount: <address> <amount>"},
}

func (s *Service) onCbPrompt(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, _, ok := s.trigger(ctx, b, upd)
	if !ok {
		return
	}
	p := prompts[upd.CallbackQuery.Data]
	s.state.Set(chatID, p.state)
	s.send(ctx, chatID, p.text, nil)
}

func (s *Service) onCbBalance(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	_, sess, ok := s.trigger(ctx, b, upd)
	if !ok {
		return
	}
	sess.CheckBalance(ctx)
}

func (s *Service) onCbAllBalances(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, sess, ok := s.trigger(ctx, b, upd)
	if !ok {
		return
	}
	if entries, ok := sess.AllBalances(ctx); ok {
		s.send(ctx, chatID, FormatBalances(entries), backMenu())
	}
}

func (s *Service) onCbPause(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, sess, ok := s.trigger(ctx, b, upd)
	if !ok {
		return
	}
	if sess.TogglePause(ctx) {
		s.sendMain(ctx, chatID, sess)
	}
}

func (s *Service) onCbHistory(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, sess, ok := s.trigger(ctx, b, upd)
	if !ok {
		return
	}
	sess.RefreshHistory(ctx)
	s.sendHistory(ctx, chatID, sess)
}

func (s *Service) onCbFilter(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callback(ctx, b, upd, "")
	if !ok {
		return
	}
	f, err := history.ParseFilter(strings.TrimPrefix(upd.CallbackQuery.Data, cbFilterPrefix))
	if err != nil {
		s.log.Debug("bad filter callback", zap.String("data", upd.CallbackQuery.Data))
		return
	}
	sess, ok := s.session(ctx, chatID)
	if !ok {
		return
	}
	sess.SetFilter(f)
	s.sendHistory(ctx, chatID, sess)
}

func (s *Service) sendHistory(ctx context.Context, chatID int64, sess *token.Session) {
	v := sess.State().Snapshot()
	s.send(ctx, chatID, FormatHistory(v.Filtered, v.Filter), historyMenu(v.Filter))
}

func (s *Service) onCbLogs(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callback(ctx, b, upd, "")
	if !ok {
		return
	}
	if sess, ok := s.session(ctx, chatID); ok {
		s.send(ctx, chatID, FormatLogs(sess.State().Snapshot().Logs), backMenu())
	}
}

func (s *Service) onCbNetwork(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callback(ctx, b, upd, "")
	if !ok {
		return
	}
	if sess, ok := s.session(ctx, chatID); ok {
		s.send(ctx, chatID, FormatNetwork(sess.State().Snapshot()), backMenu())
	}
}

func (s *Service) onTransferFrom(ctx context.Context, _ *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	args := commandArgs(upd.Message.Text)
	if len(args) != 3 {
		s.send(ctx, chatID, "Usage: /transferfrom <owner> <recipient> <amount>", nil)
		return
	}
	amount, err := ParseAmount(args[2])
	if err != nil {
		s.send(ctx, chatID, err.Error(), nil)
		return
	}
	sess, ok := s.session(ctx, chatID)
	if ok && sess.TransferFrom(ctx, args[0], args[1], amount) {
		s.refreshInvolved(ctx, chatID, args[0], args[1])
	}
}

func (s *Service) onBurnFrom(ctx context.Context, _ *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	args := commandArgs(upd.Message.Text)
	if len(args) != 2 {
		s.send(ctx, chatID, "Usage: /burnfrom <account> <amount>", nil)
		return
	}
	amount, err := ParseAmount(args[1])
	if err != nil {
		s.send(ctx, chatID, err.Error(), nil)
		return
	}
	if sess, ok := s.session(ctx, chatID); ok {
		sess.BurnFrom(ctx, args[0], amount)
	}
}

func (s *Service) onAnyText(ctx context.Context, _ *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	text := strings.TrimSpace(upd.Message.Text)

	// commands are handled elsewhere
	if strings.HasPrefix(text, "/") {
		return
	}

	st := s.state.Take(chatID)
	if st == StateIdle {
		s.send(ctx, chatID, "Use /start to open the menu.", nil)
		return
	}

	if err := s.handleInput(ctx, chatID, st, text); err != nil {
		// restore the state so the user can retry
		s.state.Set(chatID, st)
		s.send(ctx, chatID, err.Error(), nil)
	}
}

// handleInput validates text for st and runs the operation. A returned error
// is an input problem; operation failures are reported by the session.
func (s *Service) handleInput(ctx context.Context, chatID int64, st ChatState, text string) error {
	sess, ok := s.session(ctx, chatID)
	if !ok {
		return nil
	}

	switch st {
	case StateAwaitMintAmount:
		amount, err := ParseAmount(text)
		if err != nil {
			return err
		}
		sess.Mint(ctx, amount)

	case StateAwaitBurnAmount:
		amount, err := ParseAmount(text)
		if err != nil {
			return err
		}
		sess.Burn(ctx, amount)

	case StateAwaitTransfer:
		to, amount, err := ParseAddressAmount(text)
		if err != nil {
			return err
		}
		if sess.Transfer(ctx, to, amount) {
			s.refreshInvolved(ctx, chatID, sess.State().Account().Hex(), to)
		}

	case StateAwaitApproval:
		spender, amount, err := ParseAddressAmount(text)
		if err != nil {
			return err
		}
		sess.Approve(ctx, spender, amount)

	case StateAwaitNewOwner:
		sess.TransferOwnership(ctx, text)
	}
	return nil
}

// refreshInvolved reloads history for other chats whose account took part
// in a transfer.
func (s *Service) refreshInvolved(ctx context.Context, origin int64, from, to string) {
	if !IsEthAddress(from) || !IsEthAddress(to) {
		return
	}
	for _, chatID := range s.sessions.Involving(common.HexToAddress(from), common.HexToAddress(to)) {
		if chatID == origin {
			continue
		}
		if other, ok := s.sessions.Lookup(chatID); ok {
			s.log.Debug("refreshing involved chat", zap.Int64("chat_id", chatID))
			other.RefreshHistory(ctx)
		}
	}
}
