package core

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ScriptedCompleter walks a fixed list of questions and then hands over to
// Final. It stands in for the LLM when no API key is configured.
type ScriptedCompleter struct {
	Questions []string
	Final     func(history []Turn) string
}

func (s *ScriptedCompleter) Complete(_ context.Context, _ string, history []Turn) (string, error) {
	n := 0
	for _, t := range history {
		if t.Role == "user" {
			n++
		}
	}
	if n == 0 {
		return "", fmt.Errorf("prompt history has no user turn")
	}
	if n <= len(s.Questions) {
		return s.Questions[n-1], nil
	}
	return s.Final(history), nil
}

// Title uses the first few words of basis.
func (s *ScriptedCompleter) Title(_ context.Context, basis string) (string, error) {
	words := strings.Fields(basis)
	if len(words) == 0 {
		return "", fmt.Errorf("empty title basis")
	}
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Trim(strings.Join(words, " "), "\"'.,!?"), nil
}

func NewScriptedInvestorsCompleter() *ScriptedCompleter {
	return &ScriptedCompleter{
		Questions: []string{
			"Sounds interesting! Which sector does your startup operate in?",
			"What stage are you at, and how much are you looking to raise?",
		},
		Final: func([]Turn) string {
			return "Thanks, that is everything I need. " + matchMarker
		},
	}
}

var numberPattern = regexp.MustCompile(`-?\d+(?:[.,]\d+)*`)

func NewScriptedFinancialCompleter() *ScriptedCompleter {
	return &ScriptedCompleter{
		Questions: []string{
			"Great. What will you charge each customer per month?",
			"How many customers do you start with, and what monthly growth rate (%) do you expect?",
			"What are your monthly fixed costs and how much cash do you start with?",
		},
		Final: func(history []Turn) string {
			a := DefaultAssumptions()
			var numbers []float64
			users := 0
			for _, t := range history {
				if t.Role != "user" {
					continue
				}
				users++
				if users == 1 {
					a.BusinessModel = strings.TrimSpace(t.Content)
					continue
				}
				for _, m := range numberPattern.FindAllString(t.Content, -1) {
					if v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64); err == nil {
						numbers = append(numbers, v)
					}
				}
			}
			fields := []*float64{&a.PricePerCustomer, &a.InitialCustomers, &a.MonthlyGrowthRate, &a.FixedCosts, &a.StartingCash}
			for i, v := range numbers {
				if i >= len(fields) {
					break
				}
				*fields[i] = v
			}
			block, _ := json.MarshalIndent(a, "", "  ")
			return "Here is your 3-year financial projection.\n```json\n" + string(block) + "\n```"
		},
	}
}
