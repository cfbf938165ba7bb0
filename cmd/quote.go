package main

import (
	"encoding/json"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/impetus-mx/storefront-api/internal/catalog"
	"github.com/impetus-mx/storefront-api/internal/model"
	"github.com/impetus-mx/storefront-api/internal/shipping"
	"github.com/impetus-mx/storefront-api/pkg/skydropx"
)

var (
	quotePostalCode  string
	quoteWeightGrams int
	quoteItems       []string
)

// parseCartItems parses priceId:qty pairs from --item flags.
func parseCartItems(raw []string) ([]model.CartItem, error) {
	items := make([]model.CartItem, 0, len(raw))
	for _, pair := range raw {
		priceID, qtyStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, eris.Errorf("cmd: --item %q must be priceId:qty", pair)
		}
		qty, err := strconv.Atoi(qtyStr)
		if err != nil || qty < 1 {
			return nil, eris.Errorf("cmd: --item %q has an invalid quantity", pair)
		}
		items = append(items, model.CartItem{PriceID: strings.TrimSpace(priceID), Quantity: qty})
	}
	return items, nil
}

var quoteZipPattern = regexp.MustCompile(`^\d{5}$`)

// quoteCmd runs one quote against the carrier and prints the normalized
// options. Useful for checking credentials and carrier behavior without the
// HTTP surface.
var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Quote shipping for a postal code and weight",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !quoteZipPattern.MatchString(quotePostalCode) {
			return eris.New("cmd: --zip must be a 5-digit postal code")
		}
		if quoteWeightGrams < 1 {
			return eris.New("cmd: --grams must be positive")
		}

		weightGrams := quoteWeightGrams
		if len(quoteItems) > 0 {
			items, err := parseCartItems(quoteItems)
			if err != nil {
				return err
			}
			cat, err := catalog.Load()
			if err != nil {
				return err
			}
			weightGrams, err = cat.OrderWeightGrams(items)
			if err != nil {
				return err
			}
		}

		carrier := skydropx.NewClient(
			skydropx.Credentials{
				ClientID:     cfg.Skydropx.ClientID,
				ClientSecret: cfg.Skydropx.ClientSecret,
			},
			skydropx.WithBaseURL(cfg.Skydropx.BaseURL),
			skydropx.WithRateLimit(cfg.Skydropx.RateLimitRPS),
		)

		origin := cfg.Skydropx.Origin
		req := shipping.QuoteRequest{
			Origin: shipping.Address{
				Name:        origin.Name,
				Company:     origin.Company,
				Phone:       origin.Phone,
				Email:       origin.Email,
				CountryCode: origin.CountryCode,
				PostalCode:  origin.PostalCode,
				State:       origin.State,
				City:        origin.City,
				Colony:      origin.Colony,
				Street:      origin.Street,
				Number:      origin.Number,
			},
			Destination: shipping.Address{
				CountryCode: "MX",
				PostalCode:  quotePostalCode,
			},
			Parcels: []shipping.Parcel{{
				Weight: float64(weightGrams) / 1000,
				Length: cfg.Parcel.LengthCM,
				Width:  cfg.Parcel.WidthCM,
				Height: cfg.Parcel.HeightCM,
			}},
		}

		result, err := shipping.NewQuoter(carrier).Quote(cmd.Context(), req)
		if err != nil {
			return err
		}

		zap.L().Info("quote complete",
			zap.String("postal_code", quotePostalCode),
			zap.Int("options", len(result.Options)),
			zap.Int("strict", result.StrictCount),
			zap.Int("fallback", result.FallbackCount),
			zap.Int("candidate", result.CandidateIndex),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Options)
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quotePostalCode, "zip", "", "destination postal code (5 digits)")
	quoteCmd.Flags().IntVar(&quoteWeightGrams, "grams", 1000, "total parcel weight in grams")
	quoteCmd.Flags().StringSliceVar(&quoteItems, "item", nil, "cart item as priceId:qty (repeatable; overrides --grams)")
	quoteCmd.MarkFlagRequired("zip")
	rootCmd.AddCommand(quoteCmd)
}
