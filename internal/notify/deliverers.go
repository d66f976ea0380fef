package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dealsignal/internal/logger"
)

const DefaultMobileTopic = "notifications:mobile"

var ErrNoDeliverer = errors.New("no deliverer registered")

func errNoDeliverer(t ChannelType) error {
	return fmt.Errorf("%w for channel type %s", ErrNoDeliverer, t)
}

func safeDeliver(ctx context.Context, d Deliverer, ch Channel, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliverer panic: %v", r)
		}
	}()
	return d.Deliver(ctx, ch, n)
}

// InAppDeliverer only logs; the inbox already holds the notification.
type InAppDeliverer struct {
	log logger.Logger
}

func NewInAppDeliverer(log logger.Logger) *InAppDeliverer {
	if log == nil {
		log = logger.NewNop()
	}
	return &InAppDeliverer{log: log}
}

func (d *InAppDeliverer) Deliver(_ context.Context, ch Channel, n Notification) error {
	d.log.Info("in-app notification",
		logger.String("channel_id", ch.ID),
		logger.String("notification_id", n.ID),
		logger.String("title", n.Title))
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds one delivery when the caller's context has no earlier
	// deadline. Defaults to 30s.
	Timeout time.Duration
}

const defaultSMTPTimeout = 30 * time.Second

type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailDeliverer struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
}

func NewEmailDeliverer(cfg SMTPConfig) *EmailDeliverer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	d := &EmailDeliverer{cfg: cfg}
	d.sendMail = d.send
	return d
}

func (d *EmailDeliverer) Deliver(ctx context.Context, ch Channel, n Notification) error {
	if d.cfg.Host == "" {
		return errors.New("smtp host not configured")
	}
	to := splitList(ch.Config["to"])
	if len(to) == 0 {
		return fmt.Errorf("email channel %s has no recipients", ch.ID)
	}
	from := ch.Config["from"]
	if from == "" {
		from = d.cfg.From
	}
	if from == "" {
		return errors.New("email sender not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	if err := d.sendMail(ctx, addr, auth, from, to, buildMessage(from, to, n)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// send is smtp.SendMail with every network step bounded by ctx and the
// configured timeout.
func (d *EmailDeliverer) send(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, d.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: d.cfg.Host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from string, to []string, n Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(n.Title))
	fmt.Fprintf(&b, "Date: %s\r\n", n.CreatedAt.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(n.Message)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MobileDeliverer publishes notifications to a Redis channel consumed by the
// push gateway.
type MobileDeliverer struct {
	client redis.Cmdable
}

func NewMobileDeliverer(client redis.Cmdable) *MobileDeliverer {
	return &MobileDeliverer{client: client}
}

type mobilePayload struct {
	ChannelID    string       `json:"channelId"`
	Device       string       `json:"device,omitempty"`
	Notification Notification `json:"notification"`
}

func (d *MobileDeliverer) Deliver(ctx context.Context, ch Channel, n Notification) error {
	if d.client == nil {
		return errors.New("redis client not configured")
	}
	topic := ch.Config["topic"]
	if topic == "" {
		topic = DefaultMobileTopic
	}
	data, err := json.Marshal(mobilePayload{ChannelID: ch.ID, Device: ch.Config["device"], Notification: n})
	if err != nil {
		return fmt.Errorf("marshal mobile payload: %w", err)
	}
	if err := d.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
