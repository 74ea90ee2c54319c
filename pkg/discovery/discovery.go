package discovery

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPort        = 5002
	DefaultMagicWord   = "WHO_IS_RPI_CAM?"
	DefaultReplyPrefix = "I_AM_RPI_CAM"

	readTimeout = time.Second
	maxPacket   = 1024
)

type Options struct {
	Port        int
	MagicWord   string
	ReplyPrefix string
	// Name is sent after the prefix, usually the hostname.
	Name string
}

// Responder answers "who is there" broadcasts so phones on the same network
// can find the recorder without knowing its address.
type Responder struct {
	opts Options
}

func NewResponder(opts Options) *Responder {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.MagicWord == "" {
		opts.MagicWord = DefaultMagicWord
	}
	if opts.ReplyPrefix == "" {
		opts.ReplyPrefix = DefaultReplyPrefix
	}
	if opts.Name == "" {
		opts.Name, _ = os.Hostname()
	}
	return &Responder{opts: opts}
}

// Reply is the datagram sent back to a matching request.
func (r *Responder) Reply() []byte {
	return []byte(r.opts.ReplyPrefix + "|" + r.opts.Name)
}

// ListenAndServe binds every interface on the configured port.
func (r *Responder) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(r.opts.Port))
	if err != nil {
		return err
	}
	defer conn.Close()
	zerolog.Ctx(ctx).Info().Int("port", r.opts.Port).Msg("discovery listening")
	return r.Serve(ctx, conn)
}

// Serve answers requests on conn until ctx is done.
func (r *Responder) Serve(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, maxPacket)
	reply := r.Reply()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			zerolog.Ctx(ctx).Warn().Err(err).Msg("discovery read")
			continue
		}
		if strings.TrimSpace(string(buf[:n])) != r.opts.MagicWord {
			continue
		}
		if _, err := conn.WriteTo(reply, addr); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("peer", addr.String()).Msg("discovery reply")
			continue
		}
		zerolog.Ctx(ctx).Debug().Str("peer", addr.String()).Msg("discovery request answered")
	}
}
