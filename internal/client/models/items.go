package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/balancesync/internal/common"
)

// Item is a typed row of a cache-backed resource.
type Item interface {
	Key() string
}

type NewsItem struct {
	ID      string
	Title   string
	Summary string
	Date    time.Time
}

func (n NewsItem) Key() string { return n.ID }

type Quote struct {
	ID        string
	Text      string
	Author    string
	CreatedAt time.Time
}

func (q Quote) Key() string { return q.ID }

// Statistic is one monthly row of the savings statistics table. Money and
// percentage columns are kept as decimals so that totals do not drift.
type Statistic struct {
	ID            string
	Month         string
	PerfectGoal   decimal.Decimal
	ActualGoal    decimal.Decimal
	OurMoney      decimal.Decimal
	ActualPercent decimal.Decimal
}

func (s Statistic) Key() string { return s.ID }

// Progress is ActualGoal relative to PerfectGoal, in percent, rounded to two
// places. It is zero when no goal is set.
func (s Statistic) Progress() decimal.Decimal {
	if s.PerfectGoal.IsZero() {
		return decimal.Zero
	}
	return s.ActualGoal.Div(s.PerfectGoal).Mul(decimal.NewFromInt(100)).Round(2)
}

func coerceDecimal(r Row, key string) (decimal.Decimal, error) {
	s := r.String(key)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", common.ErrValidation, key, err)
	}
	return d, nil
}

func coerceNews(r Row) (Item, error) {
	date, err := r.Time("date")
	if err != nil {
		return nil, err
	}
	if r.String("title") == "" {
		return nil, fmt.Errorf("%w: news item without title", common.ErrValidation)
	}
	return NewsItem{ID: r.String("id"), Title: r.String("title"), Summary: r.String("summary"), Date: date}, nil
}

func coerceQuote(r Row) (Item, error) {
	created, err := r.Time("created_at")
	if err != nil {
		return nil, err
	}
	if r.String("text") == "" {
		return nil, fmt.Errorf("%w: quote without text", common.ErrValidation)
	}
	return Quote{ID: r.String("id"), Text: r.String("text"), Author: r.String("author"), CreatedAt: created}, nil
}

func coerceStatistic(r Row) (Item, error) {
	s := Statistic{ID: r.String("id"), Month: r.String("month")}
	var err error
	if s.PerfectGoal, err = coerceDecimal(r, "perfect_goal"); err != nil {
		return nil, err
	}
	if s.ActualGoal, err = coerceDecimal(r, "actual_goal"); err != nil {
		return nil, err
	}
	if s.OurMoney, err = coerceDecimal(r, "our_money"); err != nil {
		return nil, err
	}
	if s.ActualPercent, err = coerceDecimal(r, "actual_percent"); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeItem coerces a row of resource into its typed form.
func DecodeItem(resource Resource, r Row) (Item, error) {
	switch resource {
	case ResourceNews:
		return coerceNews(r)
	case ResourceQuotes:
		return coerceQuote(r)
	case ResourceStatistics:
		return coerceStatistic(r)
	case ResourceMessages:
		m, err := CoerceMessage(r)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: no decoder for %q", common.ErrValidation, resource)
}

// DecodeItems coerces every row and returns the valid items alongside the
// number of rows that were rejected.
func DecodeItems(resource Resource, rows []Row) ([]Item, int) {
	items := make([]Item, 0, len(rows))
	rejected := 0
	for _, r := range rows {
		it, err := DecodeItem(resource, r)
		if err != nil {
			rejected++
			continue
		}
		items = append(items, it)
	}
	return items, rejected
}

// Key makes Message an Item.
func (m *Message) Key() string { return m.ClientID }
