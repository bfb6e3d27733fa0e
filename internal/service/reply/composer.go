package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/compose"

	"github.com/zhouzirui/voyage/backend/internal/analysis/intent"
	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	"github.com/zhouzirui/voyage/backend/internal/model/travel"
)

const defaultCurrency = "INR"

// Canned replies for intents that do not depend on search results.
const (
	GreetingText    = "Hello! I'm your travel assistant. I can find flights and hotels for you. Where would you like to go?"
	HotelText       = "I can help with hotels. Which city are you staying in, and what are your check-in and check-out dates?"
	BookingHelpText = "I can help with your booking. Could you share your booking reference so I can look into it?"
	FallbackText    = "I can search flights and hotels for you. Tell me where you'd like to travel and when."
)

// Rephraser rewrites a draft reply. Implemented by the AI service.
type Rephraser interface {
	Rephrase(ctx context.Context, intent, utterance, draft string, history []chat.Message) (string, error)
}

// Request is everything the composer needs to answer one utterance.
type Request struct {
	Utterance string
	Intent    intent.Intent
	Query     travel.FlightQuery
	Result    *travel.SearchResult
	History   []chat.Message
}

// Reply is the composed assistant text.
type Reply struct {
	Text      string
	Intent    intent.Intent
	Rephrased bool
}

type draftReply struct {
	req  *Request
	text string
}

// Composer turns a classified utterance and its search result into the
// assistant's reply. It runs as a two-step chain: draft, then polish.
type Composer struct {
	runnable  compose.Runnable[*Request, *Reply]
	rephraser Rephraser
	logger    *slog.Logger
}

// NewComposer compiles the reply chain. rephraser may be nil, in which
// case drafts are returned as-is.
func NewComposer(ctx context.Context, rephraser Rephraser, logger *slog.Logger) (*Composer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Composer{rephraser: rephraser, logger: logger.With("component", "reply")}

	chain := compose.NewChain[*Request, *Reply]()
	chain.AppendLambda(compose.InvokableLambda(c.draft))
	chain.AppendLambda(compose.InvokableLambda(c.polish))

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}
	c.runnable = runnable
	return c, nil
}

// Compose produces the reply for req.
func (c *Composer) Compose(ctx context.Context, req Request) (*Reply, error) {
	return c.runnable.Invoke(ctx, &req)
}

func (c *Composer) draft(_ context.Context, req *Request) (*draftReply, error) {
	var text string
	switch req.Intent {
	case intent.FlightSearch:
		text = summarizeFlights(req.Query, req.Result)
	case intent.HotelSearch:
		text = HotelText
	case intent.Greeting:
		text = GreetingText
	case intent.BookingHelp:
		text = BookingHelpText
	default:
		text = FallbackText
	}
	return &draftReply{req: req, text: text}, nil
}

func (c *Composer) polish(ctx context.Context, d *draftReply) (*Reply, error) {
	out := &Reply{Text: d.text, Intent: d.req.Intent}
	if c.rephraser == nil {
		return out, nil
	}
	if d.req.Intent != intent.BookingHelp && d.req.Intent != intent.Fallback {
		return out, nil
	}

	text, err := c.rephraser.Rephrase(ctx, string(d.req.Intent), d.req.Utterance, d.text, d.req.History)
	if err != nil {
		c.logger.Warn("rephrase failed, using draft", "intent", d.req.Intent, "error", err)
		return out, nil
	}
	out.Text = text
	out.Rephrased = true
	return out, nil
}

func summarizeFlights(query travel.FlightQuery, result *travel.SearchResult) string {
	top, ok := result.Top()
	if !ok {
		return fmt.Sprintf("I couldn't find any flights%s. Would you like to try a different date or route?", routePhrase(query, true))
	}

	var b strings.Builder
	count := len(result.OutboundFlights)
	if count == 1 {
		fmt.Fprintf(&b, "I found 1 flight%s: ", routePhrase(query, false))
	} else {
		fmt.Fprintf(&b, "I found %d flights%s. The best option is ", count, routePhrase(query, false))
	}

	b.WriteString(top.Airline)
	if top.FlightNumber != "" {
		b.WriteString(" flight ")
		b.WriteString(top.FlightNumber)
	}
	if top.DepartureTime != "" {
		b.WriteString(", departing at ")
		b.WriteString(top.DepartureTime)
	}
	currency := top.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	fmt.Fprintf(&b, ", for %s %s.", strconv.FormatFloat(top.Price, 'f', -1, 64), currency)
	return b.String()
}

func routePhrase(query travel.FlightQuery, withDate bool) string {
	if query.Origin == "" || query.Destination == "" {
		return ""
	}
	phrase := fmt.Sprintf(" from %s to %s", query.Origin, query.Destination)
	if withDate && query.DepartureDate != "" {
		phrase += " on " + query.DepartureDate
	}
	return phrase
}
