package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// Config holds the SIP/RTP listener settings.
type Config struct {
	// ListenAddr is the host:port the SIP server binds to.
	ListenAddr string
	// Transport is "udp" or "tcp".
	Transport string
	// PublicIP is the media address advertised in SDP answers.
	PublicIP string
	// RTPPortMin and RTPPortMax bound the RTP port range.
	RTPPortMin int
	RTPPortMax int
}

// AcceptFunc decides whether a dialed number is served by this gateway.
type AcceptFunc func(number string) bool

// CallHandler runs a call session. HandleCall is invoked on its own
// goroutine once the INVITE has been answered; it should return when
// the call's Done channel closes or the session ends.
type CallHandler interface {
	HandleCall(ctx context.Context, call *Call)
}

// Call is one answered SIP dialog with its media session.
type Call struct {
	ID           string
	CallerNumber string
	DialedNumber string
	RTP          *RTPSession

	server   *Server
	invite   *sip.Request
	localTag string

	done     chan struct{}
	doneOnce sync.Once
}

// Header returns the value of a SIP header from the INVITE, or an
// empty string when absent. Used for the Connect header lookup.
func (c *Call) Header(name string) string {
	if h := c.invite.GetHeader(name); h != nil {
		return h.Value()
	}
	return ""
}

// Done is closed when the dialog ends, whether by caller BYE or a
// gateway-initiated hangup.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Hangup terminates the dialog from the gateway side with a BYE.
func (c *Call) Hangup(ctx context.Context) error {
	return c.server.hangup(ctx, c)
}

func (c *Call) finish() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.RTP.Close()
	})
}

// Server answers inbound SIP calls and hands each one to a CallHandler.
type Server struct {
	logger  *slog.Logger
	cfg     Config
	accept  AcceptFunc
	handler CallHandler

	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client
	ports  *PortAllocator

	mu    sync.Mutex
	calls map[string]*Call
}

func NewServer(logger *slog.Logger, cfg Config, accept AcceptFunc, handler CallHandler) (*Server, error) {
	if cfg.PublicIP == "" {
		cfg.PublicIP = mediaAddrFromListener(cfg.ListenAddr)
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("create sip user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create sip server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create sip client: %w", err)
	}

	s := &Server{
		logger:  logger,
		cfg:     cfg,
		accept:  accept,
		handler: handler,
		ua:      ua,
		srv:     srv,
		client:  client,
		ports:   NewPortAllocator(cfg.RTPPortMin, cfg.RTPPortMax),
		calls:   make(map[string]*Call),
	}

	srv.OnInvite(s.onInvite)
	srv.OnAck(s.onAck)
	srv.OnBye(s.onBye)
	return s, nil
}

// mediaAddrFromListener derives the SDP media address when no public
// IP is configured. A wildcard listener falls back to loopback, which
// only works for same-host peers.
func mediaAddrFromListener(listenAddr string) string {
	host, _, err := net.SplitHostPort(listenAddr)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}

// Serve listens for SIP traffic until ctx is cancelled. Blocking.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("sip server listening",
		"addr", s.cfg.ListenAddr, "transport", s.cfg.Transport)
	return s.srv.ListenAndServe(ctx, s.cfg.Transport, s.cfg.ListenAddr)
}

// Close hangs up every active call and shuts the listeners down.
func (s *Server) Close() {
	s.mu.Lock()
	active := make([]*Call, 0, len(s.calls))
	for _, call := range s.calls {
		active = append(active, call)
	}
	s.mu.Unlock()

	for _, call := range active {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := call.Hangup(ctx); err != nil {
			s.logger.Warn("hangup during shutdown failed", "call_id", call.ID, "error", err)
		}
		cancel()
	}

	s.srv.Close()
	s.ua.Close()
}

// ActiveCalls reports the number of dialogs currently in progress.
func (s *Server) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Server) respond(tx sip.ServerTransaction, res *sip.Response) {
	if err := tx.Respond(res); err != nil {
		s.logger.Error("sip respond failed", "status", res.StatusCode, "error", err)
	}
}

func (s *Server) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	caller := CallerNumber(req)
	dialed := DialedNumber(req)
	logger := s.logger.With("call_id", callID, "from", caller, "to", dialed)
	logger.Info("invite received")

	s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil))

	if s.accept != nil && !s.accept(dialed) {
		logger.Warn("rejecting call for unserved number")
		s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusForbidden, "Forbidden", nil))
		return
	}

	offer, err := ParseOffer(req.Body())
	if err != nil {
		logger.Warn("rejecting call with bad sdp", "error", err)
		s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Bad Request", nil))
		return
	}
	if !offer.SupportsPCMU {
		logger.Warn("rejecting call without pcmu support")
		s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable", nil))
		return
	}

	s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusRinging, "Ringing", nil))

	conn, err := s.ports.Listen()
	if err != nil {
		logger.Error("rtp port allocation failed", "error", err)
		s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Internal Server Error", nil))
		return
	}

	rtpSession := NewRTPSession(logger, conn, offer.Address, offer.Port)
	answer, err := BuildAnswer(s.cfg.PublicIP, rtpSession.LocalPort())
	if err != nil {
		logger.Error("sdp answer failed", "error", err)
		rtpSession.Close()
		s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Internal Server Error", nil))
		return
	}

	call := &Call{
		ID:           callID,
		CallerNumber: caller,
		DialedNumber: dialed,
		RTP:          rtpSession,
		server:       s,
		invite:       req,
		localTag:     uuid.NewString(),
		done:         make(chan struct{}),
	}

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	contentType := sip.ContentTypeHeader("application/sdp")
	res.AppendHeader(&contentType)
	if to := res.To(); to != nil {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		to.Params.Add("tag", call.localTag)
	}

	s.mu.Lock()
	s.calls[callID] = call
	s.mu.Unlock()

	s.respond(tx, res)
	logger.Info("call answered", "rtp_port", rtpSession.LocalPort())

	go s.handler.HandleCall(context.Background(), call)
}

func (s *Server) onAck(req *sip.Request, _ sip.ServerTransaction) {
	s.logger.Debug("ack received", "call_id", req.CallID().Value())
}

func (s *Server) onBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	s.logger.Info("bye received", "call_id", callID)

	s.respond(tx, sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))

	s.mu.Lock()
	call, ok := s.calls[callID]
	delete(s.calls, callID)
	s.mu.Unlock()
	if ok {
		call.finish()
	}
}

// hangup sends an in-dialog BYE built from the stored INVITE. The
// transaction layer fills in Via; the dialog identity comes from the
// original Call-ID plus the tags both sides hold.
func (s *Server) hangup(ctx context.Context, call *Call) error {
	s.mu.Lock()
	_, active := s.calls[call.ID]
	delete(s.calls, call.ID)
	s.mu.Unlock()
	if !active {
		return nil
	}
	defer call.finish()

	invite := call.invite
	recipient := invite.From().Address
	if contact := invite.Contact(); contact != nil {
		recipient = contact.Address
	}

	bye := sip.NewRequest(sip.BYE, recipient)
	bye.SetDestination(invite.Source())

	from := &sip.FromHeader{
		DisplayName: invite.To().DisplayName,
		Address:     invite.To().Address,
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", call.localTag)
	to := &sip.ToHeader{
		DisplayName: invite.From().DisplayName,
		Address:     invite.From().Address,
		Params:      invite.From().Params,
	}
	bye.AppendHeader(from)
	bye.AppendHeader(to)
	bye.AppendHeader(invite.CallID())
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: invite.CSeq().SeqNo + 1, MethodName: sip.BYE})
	maxForwards := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxForwards)

	tx, err := s.client.TransactionRequest(ctx, bye)
	if err != nil {
		return fmt.Errorf("send bye: %w", err)
	}
	defer tx.Terminate()

	select {
	case res := <-tx.Responses():
		if res.StatusCode != sip.StatusOK {
			s.logger.Warn("bye answered with non-200", "call_id", call.ID, "status", res.StatusCode)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
