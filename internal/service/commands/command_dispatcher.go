package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/service/crops"
	"github.com/mamadbah2/farmledger/internal/service/reporting"
)

// ErrInvalidArguments indicates the command payload could not be parsed.
var ErrInvalidArguments = errors.New("invalid command arguments")

// HelpText lists the supported commands.
const HelpText = `Supported commands:
/usage <feed> <bags> [<feed> <bags>...] [crop-id]
/restock <feed> <bags> [<feed> <bags>...]
/stock
/mortality [crop-id] <count> [notes]
Example: /usage C1 2 C2 1`

// Inventory is the feed stock service.
type Inventory interface {
	RecordUsage(ctx context.Context, ownerID string, movements []models.Movement, cropID *string) ([]models.FeedLedgerEntry, error)
	RecordRestock(ctx context.Context, ownerID string, movements []models.Movement, cropID *string) ([]models.FeedLedgerEntry, error)
	GetCurrentStock(ctx context.Context, ownerID string) ([]models.StockLevel, error)
}

// Crops is the crop service.
type Crops interface {
	ListCrops(ctx context.Context, ownerID string, status models.CropStatus) ([]models.Crop, error)
	RecordDailyLog(ctx context.Context, ownerID, cropID string, in crops.DailyEntry) (models.DailyLog, error)
}

// Accounts maps WhatsApp senders to owners.
type Accounts interface {
	ResolveByPhone(ctx context.Context, phone string) (models.User, error)
}

// Dispatcher executes parsed commands on behalf of a sender.
type Dispatcher interface {
	HandleCommand(ctx context.Context, cmd models.Command, sender string) (string, error)
}

// Service implements Dispatcher on top of the same services the HTTP API uses.
type Service struct {
	inventory Inventory
	crops     Crops
	accounts  Accounts
	logger    *zap.Logger
}

// NewService constructs a command dispatcher.
func NewService(inventory Inventory, crops Crops, accounts Accounts, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{inventory: inventory, crops: crops, accounts: accounts, logger: logger}
}

// HandleCommand runs cmd for the owner linked to sender and returns the reply text.
func (s *Service) HandleCommand(ctx context.Context, cmd models.Command, sender string) (string, error) {
	if cmd.Type == models.CommandHelp {
		return HelpText, nil
	}
	if cmd.Type == models.CommandUnknown {
		return "Unknown command.\n" + HelpText, nil
	}

	user, err := s.accounts.ResolveByPhone(ctx, sender)
	if err != nil {
		return "", err
	}

	s.logger.Debug("dispatching command",
		zap.String("command", string(cmd.Type)),
		zap.String("owner_id", user.ID),
		zap.Strings("args", cmd.Args))

	switch cmd.Type {
	case models.CommandUsage:
		return s.handleUsage(ctx, user.ID, cmd.Args)
	case models.CommandRestock:
		return s.handleRestock(ctx, user.ID, cmd.Args)
	case models.CommandStock:
		levels, err := s.inventory.GetCurrentStock(ctx, user.ID)
		if err != nil {
			return "", err
		}
		return reporting.FormatStock(levels), nil
	case models.CommandMortality:
		return s.handleMortality(ctx, user.ID, cmd.Args)
	default:
		return "Unknown command.\n" + HelpText, nil
	}
}

func (s *Service) handleUsage(ctx context.Context, ownerID string, args []string) (string, error) {
	movements, rest, err := parseMovements(args)
	if err != nil {
		return "", err
	}

	var cropID *string
	switch len(rest) {
	case 0:
		// A farm running a single crop gets the usage booked on it.
		active, err := s.crops.ListCrops(ctx, ownerID, models.CropStatusActive)
		if err != nil {
			return "", err
		}
		if len(active) == 1 {
			cropID = &active[0].ID
		}
	case 1:
		cropID = &rest[0]
	default:
		return "", fmt.Errorf("%w: usage is /usage <feed> <bags> [crop-id]", ErrInvalidArguments)
	}

	entries, err := s.inventory.RecordUsage(ctx, ownerID, movements, cropID)
	if err != nil {
		return "", err
	}
	return s.confirm(ctx, ownerID, "Usage recorded", entries)
}

func (s *Service) handleRestock(ctx context.Context, ownerID string, args []string) (string, error) {
	movements, rest, err := parseMovements(args)
	if err != nil {
		return "", err
	}
	if len(rest) > 0 {
		return "", fmt.Errorf("%w: usage is /restock <feed> <bags>", ErrInvalidArguments)
	}

	entries, err := s.inventory.RecordRestock(ctx, ownerID, movements, nil)
	if err != nil {
		return "", err
	}
	return s.confirm(ctx, ownerID, "Restock recorded", entries)
}

func (s *Service) handleMortality(ctx context.Context, ownerID string, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: usage is /mortality [crop-id] <count> [notes]", ErrInvalidArguments)
	}

	var cropID string
	count, err := strconv.Atoi(args[0])
	if err == nil {
		args = args[1:]
		active, err := s.crops.ListCrops(ctx, ownerID, models.CropStatusActive)
		if err != nil {
			return "", err
		}
		if len(active) != 1 {
			return "", fmt.Errorf("%w: %d active crops, please give the crop id", ErrInvalidArguments, len(active))
		}
		cropID = active[0].ID
	} else {
		if len(args) < 2 {
			return "", fmt.Errorf("%w: usage is /mortality [crop-id] <count> [notes]", ErrInvalidArguments)
		}
		cropID = args[0]
		if count, err = strconv.Atoi(args[1]); err != nil {
			return "", fmt.Errorf("%w: count %q is not a number", ErrInvalidArguments, args[1])
		}
		args = args[2:]
	}

	log, err := s.crops.RecordDailyLog(ctx, ownerID, cropID, crops.DailyEntry{
		Mortality: count,
		Notes:     strings.Join(args, " "),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Mortality recorded: %d. Total for %s: %d.", count, log.LogDate, log.Mortality), nil
}

func (s *Service) confirm(ctx context.Context, ownerID, title string, entries []models.FeedLedgerEntry) (string, error) {
	var b strings.Builder
	b.WriteString(title + ":")
	for _, e := range entries {
		fmt.Fprintf(&b, " %s %d", e.FeedTypeName, e.Bags)
	}

	levels, err := s.inventory.GetCurrentStock(ctx, ownerID)
	if err != nil {
		s.logger.Warn("failed to load stock for reply", zap.String("owner_id", ownerID), zap.Error(err))
		return b.String(), nil
	}
	b.WriteString("\n")
	b.WriteString(reporting.FormatStock(levels))
	return b.String(), nil
}

// parseMovements reads leading "<feed> <bags>" pairs. Tokens after the last
// pair are returned as rest.
func parseMovements(args []string) ([]models.Movement, []string, error) {
	var movements []models.Movement
	i := 0
	for ; i+1 < len(args); i += 2 {
		bags, err := strconv.Atoi(args[i+1])
		if err != nil {
			break
		}
		movements = append(movements, models.Movement{FeedType: args[i], Bags: bags})
	}
	if len(movements) == 0 {
		return nil, nil, fmt.Errorf("%w: expected <feed> <bags>, e.g. C1 2", ErrInvalidArguments)
	}
	return movements, args[i:], nil
}
