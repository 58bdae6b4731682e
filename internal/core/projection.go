package core

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"gwi.com/venture-assistant/internal/chat"
)

const projectionMonths = 36

// Assumptions drive the monthly projection. Rates are percentages.
type Assumptions struct {
	BusinessModel     string  `json:"businessModel"`
	StartingCash      float64 `json:"startingCash"`
	PricePerCustomer  float64 `json:"pricePerCustomer"`
	InitialCustomers  float64 `json:"initialCustomers"`
	MonthlyGrowthRate float64 `json:"monthlyGrowthRate"`
	MonthlyChurnRate  float64 `json:"monthlyChurnRate"`
	CostPerCustomer   float64 `json:"costPerCustomer"`
	AcquisitionCost   float64 `json:"acquisitionCost"`
	FixedCosts        float64 `json:"fixedCosts"`
}

func DefaultAssumptions() Assumptions {
	return Assumptions{
		StartingCash:      100000,
		PricePerCustomer:  50,
		InitialCustomers:  20,
		MonthlyGrowthRate: 10,
		MonthlyChurnRate:  3,
		CostPerCustomer:   10,
		AcquisitionCost:   100,
		FixedCosts:        8000,
	}
}

func (a Assumptions) validate() error {
	switch {
	case a.PricePerCustomer < 0, a.InitialCustomers < 0, a.CostPerCustomer < 0, a.AcquisitionCost < 0, a.FixedCosts < 0:
		return fmt.Errorf("assumptions must not be negative")
	case a.MonthlyChurnRate < 0 || a.MonthlyChurnRate > 100:
		return fmt.Errorf("churn rate must be between 0 and 100")
	case a.MonthlyGrowthRate < -100:
		return fmt.Errorf("growth rate must be above -100")
	}
	return nil
}

type ProjectionSummary struct {
	Months          int        `json:"months"`
	EndingCash      float64    `json:"endingCash"`
	EndingCustomers int        `json:"endingCustomers"`
	YearlyRevenue   [3]float64 `json:"yearlyRevenue"`
	BreakEvenMonth  int        `json:"breakEvenMonth,omitempty"`
	RunwayMonths    int        `json:"runwayMonths"`
}

// FinancialData is stored under the financialData metadata key.
type FinancialData struct {
	Assumptions Assumptions       `json:"assumptions"`
	Summary     ProjectionSummary `json:"summary"`
}

// Project computes the monthly projection and the warnings that go with it.
func Project(a Assumptions) ([]chat.Projection, *FinancialData, []string, error) {
	if err := a.validate(); err != nil {
		return nil, nil, nil, err
	}

	rows := make([]chat.Projection, 0, projectionMonths)
	summary := ProjectionSummary{Months: projectionMonths, RunwayMonths: projectionMonths}
	customers := a.InitialCustomers
	cash := a.StartingCash
	firstNegative := 0

	for m := 1; m <= projectionMonths; m++ {
		acquired := a.InitialCustomers
		if m > 1 {
			churned := customers * a.MonthlyChurnRate / 100
			acquired = math.Max(0, customers*a.MonthlyGrowthRate/100)
			customers = math.Max(0, customers-churned+acquired)
		}
		revenue := customers * a.PricePerCustomer
		expenses := a.FixedCosts + customers*a.CostPerCustomer + acquired*a.AcquisitionCost
		cash += revenue - expenses

		if summary.BreakEvenMonth == 0 && revenue >= expenses && revenue > 0 {
			summary.BreakEvenMonth = m
		}
		if firstNegative == 0 && cash < 0 {
			firstNegative = m
			summary.RunwayMonths = m - 1
		}
		summary.YearlyRevenue[(m-1)/12] += round2(revenue)

		rows = append(rows, chat.Projection{
			Month:         m,
			Revenue:       round2(revenue),
			TotalExpenses: round2(expenses),
			Cash:          round2(cash),
			Customers:     int(math.Round(customers)),
		})
	}
	summary.EndingCash = round2(cash)
	summary.EndingCustomers = int(math.Round(customers))

	var warnings []string
	if firstNegative > 0 {
		warnings = append(warnings, fmt.Sprintf("Cash runs out in month %d.", firstNegative))
	}
	if summary.RunwayMonths < 12 {
		warnings = append(warnings, fmt.Sprintf("Runway is only %d months; plan your next raise early.", summary.RunwayMonths))
	}
	if a.MonthlyChurnRate >= 10 {
		warnings = append(warnings, fmt.Sprintf("Monthly churn of %.1f%% is high; retention will limit growth.", a.MonthlyChurnRate))
	}
	if summary.BreakEvenMonth == 0 {
		warnings = append(warnings, fmt.Sprintf("The business does not break even within %d months.", projectionMonths))
	}
	return rows, &FinancialData{Assumptions: a, Summary: summary}, warnings, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var assumptionsBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractAssumptions finds a fenced JSON assumptions block in an LLM reply.
// It returns the reply with the block removed.
func ExtractAssumptions(text string) (*Assumptions, string, bool) {
	loc := assumptionsBlock.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, text, false
	}
	a := DefaultAssumptions()
	if err := json.Unmarshal([]byte(text[loc[2]:loc[3]]), &a); err != nil {
		return nil, text, false
	}
	rest := strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	return &a, rest, true
}
