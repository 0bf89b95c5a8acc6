package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules describes the vocabulary of the pipeline log: which fields carry the
// session id, timestamp and message, and which messages mark the stages the
// reconciler cares about.
type Rules struct {
	SessionField string `yaml:"session_field"`
	TimeField    string `yaml:"time_field"`
	MessageField string `yaml:"message_field"`
	OrderField   string `yaml:"order_field"`

	// InterestMessages mark sessions that logged card data.
	InterestMessages []string `yaml:"interest_messages"`
	// FailureMessages are terminal failure signals.
	FailureMessages []string `yaml:"failure_messages"`
	// SuccessMessage is the terminal response; SuccessFlag holds its boolean outcome.
	SuccessMessage string `yaml:"success_message"`
	SuccessFlag    string `yaml:"success_flag"`

	LinkField         string   `yaml:"link_field"`
	LinkMessagePrefix string   `yaml:"link_message_prefix"`
	BalanceMessage    string   `yaml:"balance_message"`
	BalancePath       []string `yaml:"balance_path"`

	KeyMinLength int `yaml:"key_min_length"`
	KeyMaxLength int `yaml:"key_max_length"`
}

// DefaultRules returns the rules for the card payment generator logs.
func DefaultRules() Rules {
	return Rules{
		SessionField:      "runId",
		TimeField:         "time",
		MessageField:      "msg",
		OrderField:        "orderId",
		InterestMessages:  []string{"Response from processCard", "Card stored to use"},
		FailureMessages:   []string{"Error while making Requests"},
		SuccessMessage:    "Response from payOnLandingPagePnm",
		SuccessFlag:       "isSuccess",
		LinkField:         "trucentiveLink",
		LinkMessagePrefix: "Initial card data stored for trucentiveLink: ",
		BalanceMessage:    "Response from getAmountToCollect",
		BalancePath:       []string{"amountData", "amount"},
		KeyMinLength:      13,
		KeyMaxLength:      19,
	}
}

// LoadRules reads a YAML rules file on top of the defaults. An empty path
// returns the defaults unchanged.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}

// Validate checks that the rules can drive a reconciliation run.
func (r Rules) Validate() error {
	var errs []error
	if r.SessionField == "" {
		errs = append(errs, errors.New("session_field is required"))
	}
	if r.TimeField == "" {
		errs = append(errs, errors.New("time_field is required"))
	}
	if r.MessageField == "" {
		errs = append(errs, errors.New("message_field is required"))
	}
	if r.SuccessMessage == "" {
		errs = append(errs, errors.New("success_message is required"))
	}
	if r.KeyMinLength <= 0 || r.KeyMaxLength < r.KeyMinLength {
		errs = append(errs, fmt.Errorf("key length range [%d, %d] is invalid", r.KeyMinLength, r.KeyMaxLength))
	}
	return errors.Join(errs...)
}

// IsInterest reports whether msg marks a session worth materializing.
func (r Rules) IsInterest(msg string) bool {
	for _, m := range r.InterestMessages {
		if m == msg {
			return true
		}
	}
	return false
}

// IsFailure reports whether msg is a terminal failure signal.
func (r Rules) IsFailure(msg string) bool {
	for _, m := range r.FailureMessages {
		if m == msg {
			return true
		}
	}
	return false
}
