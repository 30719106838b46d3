package app

import (
	"fmt"

	"github.com/alanyoungcy/arbot/internal/config"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/keys"
	"github.com/alanyoungcy/arbot/internal/platform/coinbase"
	"github.com/alanyoungcy/arbot/internal/platform/kraken"
	"github.com/alanyoungcy/arbot/internal/platform/paper"
)

// buildVenues constructs the venue pair for the configured mode. Paper mode
// gets in-memory venues; live and simulate talk to the real exchanges
// (simulate fetches real books and balances but the engine places no
// orders).
func buildVenues(cfg *config.Config, mode string) (domain.Venue, domain.Venue, error) {
	if mode == "paper" {
		return paperVenue(cfg.VenueA, cfg), paperVenue(cfg.VenueB, cfg), nil
	}

	venueA, err := liveVenue(cfg.VenueA, cfg.Engine.Symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("venue_a: %w", err)
	}
	venueB, err := liveVenue(cfg.VenueB, cfg.Engine.Symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("venue_b: %w", err)
	}
	return venueA, venueB, nil
}

func paperVenue(vc config.VenueConfig, cfg *config.Config) domain.Venue {
	v := paper.NewVenue(vc.Name, domain.TokenScheme(vc.TokenScheme))
	v.SetBalance(domain.Balance{
		Fiat:  cfg.Paper.FiatBalance,
		Asset: cfg.Paper.AssetBalance,
	})
	v.SetFee(vc.Fee)
	return v
}

// liveVenue loads the venue's API credentials and builds the matching
// exchange adapter.
func liveVenue(vc config.VenueConfig, symbol string) (domain.Venue, error) {
	creds, err := keys.Load(vc.KeyPath, vc.KeyPassword)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	switch vc.Name {
	case "kraken":
		client, err := kraken.NewClient(creds.APIKey, creds.APISecret)
		if err != nil {
			return nil, err
		}
		venueCfg := kraken.PairFromSymbol(symbol)
		venueCfg.Name = vc.Name
		return kraken.NewVenue(client, venueCfg), nil
	case "coinbase":
		client, err := coinbase.NewClient(creds.APIKey, creds.APISecret, creds.Passphrase)
		if err != nil {
			return nil, err
		}
		return coinbase.NewVenue(client, vc.Name, symbol), nil
	default:
		return nil, fmt.Errorf("no adapter for venue %q", vc.Name)
	}
}
