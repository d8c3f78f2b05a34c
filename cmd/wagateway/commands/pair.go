package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"github.com/talkincode/wagateway/internal/whatsapp/meow"
)

// terminalRenderer draws pairing codes on a terminal and still hands the
// session a data URL.
type terminalRenderer struct {
	out io.Writer
	png whatsapp.DataURLRenderer
}

func (r terminalRenderer) Render(code string) (string, error) {
	fmt.Fprintln(r.out, "Scan with WhatsApp > Linked devices:")
	qrterminal.GenerateHalfBlock(code, qrterminal.L, r.out)
	return r.png.Render(code)
}

func pairCmd() *cobra.Command {
	var (
		key     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair a session from the terminal and keep its credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := startApp()
			defer application.Release()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			dialer, err := meow.NewDialer(ctx, application.DB(), cfg.Database.Type, cfg.System.Appid)
			if err != nil {
				return err
			}
			svc, err := whatsapp.New(application, dialer, terminalRenderer{out: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer scancel()
				_ = svc.Shutdown(sctx)
			}()

			sess, err := svc.Create(ctx, key, "", false)
			if err != nil {
				return err
			}
			if err := waitPaired(ctx, sess); err != nil {
				return err
			}
			info := sess.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "Paired %s as %s\n", info.InstanceKey, info.User.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "session key (random when empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "give up after this long")
	return cmd
}

func waitPaired(ctx context.Context, sess *whatsapp.Session) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("pairing %s: %w", sess.Key(), ctx.Err())
		case <-ticker.C:
		}
		switch {
		case sess.Online():
			return nil
		case sess.QR() == whatsapp.QRExpired:
			return fmt.Errorf("pairing %s: qr code expired", sess.Key())
		case sess.State() == whatsapp.StateTerminated:
			return fmt.Errorf("pairing %s: session logged out", sess.Key())
		}
	}
}
