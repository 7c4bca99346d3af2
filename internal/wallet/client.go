package wallet

import (
	"context"
	"fmt"

	"github.com/radieske/betting-house/internal/entity"
)

// Client expõe os comandos da carteira com tipos concretos
type Client struct {
	Router entity.Asker
}

// ReserveFunds devolve false quando o saldo não cobre o valor
func (c Client) ReserveFunds(ctx context.Context, walletID string, amount int64) (bool, error) {
	reply, err := c.Router.Ask(ctx, TypeKey, walletID, ReserveFunds{Amount: amount})
	if err != nil {
		return false, err
	}
	switch reply.(type) {
	case entity.Accepted:
		return true, nil
	case entity.Rejected:
		return false, nil
	}
	return false, fmt.Errorf("unexpected wallet reply %T", reply)
}

func (c Client) AddFunds(ctx context.Context, walletID string, amount int64) error {
	reply, err := c.Router.Ask(ctx, TypeKey, walletID, AddFunds{Amount: amount})
	if err != nil {
		return err
	}
	if _, ok := reply.(entity.Accepted); !ok {
		return fmt.Errorf("unexpected wallet reply %T", reply)
	}
	return nil
}

func (c Client) CheckFunds(ctx context.Context, walletID string) (int64, error) {
	reply, err := c.Router.Ask(ctx, TypeKey, walletID, CheckFunds{})
	if err != nil {
		return 0, err
	}
	cb, ok := reply.(CurrentBalance)
	if !ok {
		return 0, fmt.Errorf("unexpected wallet reply %T", reply)
	}
	return cb.Amount, nil
}
