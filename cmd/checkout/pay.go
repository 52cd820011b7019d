package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"marketplace-checkout/internal/checkout"
	"marketplace-checkout/internal/client"
	"marketplace-checkout/internal/config"
	"marketplace-checkout/internal/logger"
	"marketplace-checkout/internal/model"
	"marketplace-checkout/internal/repository"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func payCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Open a payment session and wait for confirmation",
		Long: `Creates (or resumes) a crypto payment session and shows the address,
the countdown and status updates until the payment is confirmed.

Keys (followed by Enter):
  c  copy the payment address
  r  retry after a failed or expired payment
  q  cancel`,
		RunE: runPay,
	}

	cmd.Flags().StringP("product", "p", "", "Product id")
	cmd.Flags().StringP("type", "t", string(model.ProductTypeCourse), "Product type (course, ebook)")
	cmd.Flags().StringP("amount", "a", "", "Amount to pay")
	cmd.Flags().StringP("currency", "c", "USDT", "Currency")
	cmd.Flags().StringP("user", "u", "", "User id")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runPay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	req, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, "console")
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := client.OpenDatabase(&cfg.Database)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctrl := checkout.New(checkout.Config{
		PollInterval:      cfg.Checkout.PollInterval,
		CountdownInterval: cfg.Checkout.CountdownInterval,
		CopiedDuration:    cfg.Checkout.CopiedDuration,
	}, checkout.Deps{
		Client:    client.NewPaymentClient(&cfg.PaymentAPI),
		Sessions:  repository.NewSessionRepository(db),
		Notifier:  checkout.NotifierFunc(func(n checkout.Notification) { fmt.Fprintf(out, "\n[%s] %s: %s\n", n.Kind, n.Title, n.Message) }),
		Clipboard: &terminalClipboard{w: out},
		Log:       log,
		OnSuccess: func(s *model.PaymentSession) {
			fmt.Fprintf(out, "Access to %s granted (transaction %s)\n", req.ProductID, s.TransactionID)
		},
	})
	defer ctrl.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Open(ctx, req); err != nil {
		return err
	}

	return interact(ctx, ctrl, cmd.InOrStdin(), out)
}

func requestFromFlags(cmd *cobra.Command) (*model.PaymentRequest, error) {
	product, _ := cmd.Flags().GetString("product")
	productType, _ := cmd.Flags().GetString("type")
	amount, _ := cmd.Flags().GetString("amount")
	currency, _ := cmd.Flags().GetString("currency")
	user, _ := cmd.Flags().GetString("user")

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}

	req := &model.PaymentRequest{
		Amount:      value,
		Currency:    currency,
		ProductID:   product,
		ProductType: model.ProductType(productType),
		UserID:      user,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func interact(ctx context.Context, ctrl *checkout.Controller, in io.Reader, out io.Writer) error {
	keys := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			keys <- strings.TrimSpace(scanner.Text())
		}
		close(keys)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var shown string
	var last checkout.State
	for {
		select {
		case <-ctx.Done():
			_ = ctrl.Cancel()
			return ctx.Err()
		case key, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			switch key {
			case "c":
				if err := ctrl.CopyAddress(); err != nil {
					fmt.Fprintln(out, "nothing to copy yet")
				}
			case "r":
				if err := ctrl.Retry(); err != nil {
					fmt.Fprintln(out, "retry is only possible after a failed or expired payment")
				}
			case "q":
				_ = ctrl.Cancel()
				return errors.New("checkout cancelled")
			}
		case <-ticker.C:
		}

		snap := ctrl.Snapshot()
		if snap.Session != nil && snap.Session.TransactionID != shown {
			shown = snap.Session.TransactionID
			printSession(out, snap.Session)
		}
		if snap.State != last && (snap.State == checkout.StateFailed || snap.State == checkout.StateExpired) {
			fmt.Fprintln(out, "press r to retry or q to cancel")
		}
		last = snap.State

		switch {
		case snap.State == checkout.StateConfirmed:
			return nil
		case snap.State == checkout.StateIdle && !snap.Open:
			return errors.New("checkout closed")
		case snap.State == checkout.StateAwaitingPayment:
			copied := ""
			if snap.Copied {
				copied = "  (copied)"
			}
			fmt.Fprintf(out, "\rwaiting for payment, %s left%s   ", formatRemaining(snap.TimeRemaining), copied)
		}
	}
}

func printSession(out io.Writer, s *model.PaymentSession) {
	fmt.Fprintf(out, "\nSend %s %s to\n  %s\n", s.Amount.String(), s.Currency, s.PaymentAddress)
	if s.QRCodeURL != "" {
		fmt.Fprintf(out, "QR code: %s\n", s.QRCodeURL)
	}
	fmt.Fprintf(out, "Transaction %s, expires %s\n", s.TransactionID, s.ExpiresAt().Local().Format(time.Kitchen))
}

func formatRemaining(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// terminalClipboard uses the OSC 52 escape sequence, which most terminal
// emulators turn into a clipboard write.
type terminalClipboard struct {
	w io.Writer
}

func (c *terminalClipboard) WriteText(text string) error {
	_, err := fmt.Fprintf(c.w, "\x1b]52;c;%s\x07", base64.StdEncoding.EncodeToString([]byte(text)))
	return err
}
