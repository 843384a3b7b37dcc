package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"budget/internal/amqp"
	"budget/internal/apperr"
	"budget/internal/audit"
	"budget/internal/auth"
	"budget/internal/batch"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/services"
)

// Opener builds the process Base. Tests swap it for one over a temp database.
type Opener func(ctx context.Context) (*Base, error)

// NewRootCommand builds budgetctl.
func NewRootCommand(out io.Writer, open Opener) *cobra.Command {
	if open == nil {
		open = func(ctx context.Context) (*Base, error) { return Open(ctx, applog.ComponentApp) }
	}
	cmd := &cobra.Command{
		Use:           "budgetctl",
		Short:         "Budget administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)

	cmd.AddCommand(newMigrateCommand(out, open))
	cmd.AddCommand(newRunCommand(out, open))
	cmd.AddCommand(newSeedCommand(out, open))
	return cmd
}

func newMigrateCommand(out io.Writer, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the database applies the migrations.
			base, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer base.Close()

			version, dirty, err := base.DB.MigrationVersion()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "driver=%s schema_version=%d dirty=%t\n", base.DB.Driver(), version, dirty)
			return err
		},
	}
}

func newRunCommand(out io.Writer, open Opener) *cobra.Command {
	var (
		at    string
		queue bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch job",
		Example: "  budgetctl run report\n" +
			"  budgetctl run report --at 2025-04-02\n" +
			"  budgetctl run dead-letter --queue",
	}
	cmd.PersistentFlags().StringVar(&at, "at", "", "Run as of this date (yyyy-MM-dd, UTC); defaults to now")
	cmd.PersistentFlags().BoolVar(&queue, "queue", false, "Hand the job to the worker over AMQP instead of running it here")

	job := func(name string, run func(ctx context.Context, b *Base, now time.Time) (*batch.JobExecution, error)) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Run the " + name + " job",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				now := time.Now().UTC()
				if at != "" {
					d, err := core.ParseDate(at)
					if err != nil {
						return fmt.Errorf("--at: %w", err)
					}
					now = d
				}

				base, err := open(cmd.Context())
				if err != nil {
					return err
				}
				defer base.Close()

				if queue {
					return enqueue(cmd.Context(), out, base, name)
				}
				exec, err := run(cmd.Context(), base, now)
				if err != nil {
					return err
				}
				read, write, skip := exec.Totals()
				_, err = fmt.Fprintf(out, "job=%s status=%s read=%d written=%d skipped=%d\n",
					exec.JobName, exec.Status, read, write, skip)
				return err
			},
		}
	}

	cmd.AddCommand(
		job(amqp.JobReport, func(ctx context.Context, b *Base, now time.Time) (*batch.JobExecution, error) {
			return b.ReportRunner().RunReport(ctx, now)
		}),
		job(amqp.JobDeadLetter, func(ctx context.Context, b *Base, now time.Time) (*batch.JobExecution, error) {
			return b.ReportRunner().RunDeadLetters(ctx, now)
		}),
	)
	return cmd
}

func enqueue(ctx context.Context, out io.Writer, base *Base, job string) error {
	broker, err := base.AMQP()
	if err != nil {
		return err
	}
	if broker == nil {
		return errors.New("--queue needs AMQP_URL")
	}
	requestID := uuid.NewString()
	if err := broker.PublishRunJob(ctx, amqp.NewRunJobMessage(job, 0, requestID)); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "job=%s queued request_id=%s\n", job, requestID)
	return err
}

// SeedOptions describe the demo account seed creates.
type SeedOptions struct {
	Email        string
	Password     string
	Name         string
	CardCompany  string
	CardNumber   string
	Transactions int
	Now          time.Time
}

// SeedResult counts what seed changed.
type SeedResult struct {
	UserID   int64
	CardID   int64
	Added    int
	Existing int
}

var seedMerchants = []struct {
	name   string
	amount int64
}{
	{"Starbucks Gangnam", 5500},
	{"McDonald Yeoksam", 8900},
	{"Kakao T", 12300},
	{"E-Mart Seongsu", 48700},
	{"GS25 Seolleung", 3200},
	{"Daiso Samseong", 7000},
	{"CGV Coex", 15000},
	{"Ediya Coffee", 3800},
}

func newSeedCommand(out io.Writer, open Opener) *cobra.Command {
	opts := SeedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo user, card and card-company transactions",
		Example: "  budgetctl seed\n" +
			"  budgetctl seed --email demo@example.com --transactions 60",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer base.Close()

			opts.Now = time.Now().UTC()
			res, err := Seed(cmd.Context(), base, opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "user_id=%d card_id=%d added=%d existing=%d\n",
				res.UserID, res.CardID, res.Added, res.Existing)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.Email, "email", "demo@example.com", "Account email")
	cmd.Flags().StringVar(&opts.Password, "password", "demo1234", "Account password")
	cmd.Flags().StringVar(&opts.Name, "name", "demo", "Account name")
	cmd.Flags().StringVar(&opts.CardCompany, "card-company", string(core.Shinhan), "Card company")
	cmd.Flags().StringVar(&opts.CardNumber, "card-number", "1234567812345678", "Card number")
	cmd.Flags().IntVar(&opts.Transactions, "transactions", 40, "Card-company transactions to create, spread over the last two months")
	return cmd
}

// Seed creates the account and card unless they exist, then fills the card
// company's ledger. Running it twice adds nothing new.
func Seed(ctx context.Context, base *Base, opts SeedOptions) (SeedResult, error) {
	var res SeedResult
	auditLog := audit.New(base.Logger)
	users := services.NewUserService(base.DB, auth.NewPasswordHasher(bcrypt.DefaultCost), auditLog)
	cards := services.NewCardService(base.DB, auditLog)
	ledger := services.NewCardTransactionService(base.DB)

	u, err := users.Register(ctx, services.RegisterInput{Email: opts.Email, Password: opts.Password, Name: opts.Name})
	switch {
	case apperr.HasCode(err, apperr.UserEmailExists):
		if u, err = base.DB.Repos().Users.ByEmail(ctx, opts.Email); err != nil {
			return res, fmt.Errorf("load seeded user: %w", err)
		}
	case err != nil:
		return res, err
	}
	res.UserID = u.ID

	card, err := cards.Register(ctx, u.ID, opts.CardCompany, opts.CardNumber)
	switch {
	case apperr.HasCode(err, apperr.CardExists):
		if card, err = ownedCard(ctx, cards, u.ID, opts.CardNumber); err != nil {
			return res, err
		}
	case err != nil:
		return res, err
	}
	res.CardID = card.ID

	start := core.FirstOfMonth(opts.Now).AddDate(0, -2, 0)
	span := opts.Now.Sub(start)
	for i := 0; i < opts.Transactions; i++ {
		m := seedMerchants[i%len(seedMerchants)]
		at := start.Add(span * time.Duration(i) / time.Duration(opts.Transactions)).Truncate(time.Minute)
		_, err := ledger.Add(ctx, services.AddCardTransactionInput{
			CardCompany:   opts.CardCompany,
			CardNumber:    opts.CardNumber,
			MerchantID:    fmt.Sprintf("seed-%s-%04d", opts.CardNumber, i),
			Amount:        decimal.NewFromInt(m.amount + int64(i%5)*100),
			MerchantName:  m.name,
			TransactionAt: at,
			Type:          string(core.Payment),
			Status:        string(core.Approved),
		})
		switch {
		case apperr.HasCode(err, apperr.CardTransactionExists):
			res.Existing++
		case err != nil:
			return res, fmt.Errorf("seed transaction %d: %w", i, err)
		default:
			res.Added++
		}
	}
	return res, nil
}

func ownedCard(ctx context.Context, cards *services.CardService, userID int64, number string) (core.Card, error) {
	list, err := cards.List(ctx, userID)
	if err != nil {
		return core.Card{}, err
	}
	for _, c := range list {
		if c.Number == number {
			return c, nil
		}
	}
	return core.Card{}, fmt.Errorf("card %s belongs to another user", audit.MaskCardNumber(number))
}
