// ABOUTME: Deal CLI commands
// ABOUTME: Board listing, deal CRUD, stage moves, history, insights and stale deals
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/deangilmoreremix/update3.0-new-sub002/viz"
)

// ListDealsCommand prints every deal in board order.
func ListDealsCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	stage := fs.String("stage", "", "Only show this stage")
	_ = fs.Parse(args)

	var filter models.Stage
	if *stage != "" {
		s, err := parseStageFlag(*stage)
		if err != nil {
			return err
		}
		filter = s
	}

	st := store.Snapshot()
	if len(st.Deals) == 0 {
		fmt.Println("No deals found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TITLE\tCOMPANY\tVALUE\tSTAGE\tPROB\tDAYS\tID")
	_, _ = fmt.Fprintln(w, "-----\t-------\t-----\t-----\t----\t----\t--")

	shown := 0
	var total float64
	for _, col := range st.Board() {
		if filter != "" && col.ID != filter {
			continue
		}
		for _, id := range col.DealIDs {
			d := st.Deals[id]
			company := d.Company
			if company == "" {
				company = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s %.2f\t%s\t%d%%\t%d\t%s\n",
				d.Title, company, d.Currency, d.Value, d.Stage, d.Probability, d.DaysInStage, shortID(d.ID))
			shown++
			total += d.Value
		}
	}
	_ = w.Flush()

	fmt.Printf("\nTotal: %d deal(s) - %.2f (weighted %.2f overall)\n", shown, total, st.WeightedPipelineValue)
	return nil
}

// BoardCommand renders the kanban board.
func BoardCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("board", flag.ExitOnError)
	_ = fs.Parse(args)

	fmt.Print(viz.RenderBoard(store.Snapshot()))
	return nil
}

// AddDealCommand creates a deal at the bottom of its stage.
func AddDealCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	title := fs.String("title", "", "Deal title (required)")
	value := fs.Float64("value", 0, "Deal value")
	currency := fs.String("currency", models.DefaultCurrency, "Currency code")
	stage := fs.String("stage", string(models.StageQualification), "Stage (qualification, proposal, negotiation, closed-won, closed-lost)")
	company := fs.String("company", "", "Company name")
	contact := fs.String("contact", "", "Contact name")
	due := fs.String("due", "", "Expected close date (YYYY-MM-DD)")
	priority := fs.String("priority", string(models.PriorityMedium), "Priority (low, medium, high)")
	notes := fs.String("notes", "", "Notes")
	_ = fs.Parse(args)

	if *title == "" {
		return fmt.Errorf("--title is required")
	}

	st, err := parseStageFlag(*stage)
	if err != nil {
		return err
	}
	cur := strings.ToUpper(*currency)
	pr := models.ParsePriority(*priority)
	patch := models.DealPatch{
		Title:    title,
		Value:    value,
		Currency: &cur,
		Stage:    &st,
		Priority: &pr,
	}
	if *company != "" {
		patch.Company = company
	}
	if *contact != "" {
		patch.Contact = contact
	}
	if *notes != "" {
		patch.Notes = notes
	}
	if *due != "" {
		t, err := time.Parse("2006-01-02", *due)
		if err != nil {
			return fmt.Errorf("invalid --due date (use YYYY-MM-DD): %w", err)
		}
		patch.DueDate = &t
	}

	deal, err := store.CreateDeal(context.Background(), patch)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Deal created: %s (ID: %s)\n", deal.Title, deal.ID)
	fmt.Printf("  Value: %s %.2f\n", deal.Currency, deal.Value)
	fmt.Printf("  Stage: %s (%d%%)\n", deal.Stage.Title(), deal.Probability)
	return nil
}

// UpdateDealCommand applies the flags that were set to an existing deal.
func UpdateDealCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	title := fs.String("title", "", "New title")
	value := fs.Float64("value", -1, "New value")
	stage := fs.String("stage", "", "New stage")
	company := fs.String("company", "", "New company")
	priority := fs.String("priority", "", "New priority")
	notes := fs.String("notes", "", "New notes")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: update [flags] <id>")
	}
	id, err := resolveDealID(store, fs.Arg(0))
	if err != nil {
		return err
	}

	var patch models.DealPatch
	if *title != "" {
		patch.Title = title
	}
	if *value >= 0 {
		patch.Value = value
	}
	if *stage != "" {
		s, err := parseStageFlag(*stage)
		if err != nil {
			return err
		}
		patch.Stage = &s
	}
	if *company != "" {
		patch.Company = company
	}
	if *priority != "" {
		pr := models.ParsePriority(*priority)
		patch.Priority = &pr
	}
	if *notes != "" {
		patch.Notes = notes
	}
	if patch.IsEmpty() {
		return fmt.Errorf("nothing to update")
	}

	deal, err := store.UpdateDeal(context.Background(), id, patch)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Updated deal: %s (%s)\n", deal.Title, deal.Stage.Title())
	return nil
}

// MoveDealCommand moves a deal and waits for the change to be persisted.
// A move that cannot be saved is reverted before the command returns.
func MoveDealCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	index := fs.Int("index", 0, "Position in the destination column")
	_ = fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("usage: move [--index N] <id> <stage>")
	}
	id, err := resolveDealID(store, fs.Arg(0))
	if err != nil {
		return err
	}
	dest, err := parseStageFlag(fs.Arg(1))
	if err != nil {
		return err
	}

	current, _ := store.Deal(id)
	correlationID, err := store.MoveDealToStage(id, current.Stage, dest, *index)
	if err != nil {
		return err
	}
	if correlationID == "" {
		fmt.Printf("Deal already in %s\n", dest.Title())
		return nil
	}

	store.Wait()
	if f, ok := failedMove(store, correlationID); ok {
		fmt.Printf("⚠️  Move not saved after %d attempts: %v\n", f.Attempts, f.Err)
		if err := store.Undo(correlationID); err != nil {
			return err
		}
		store.Wait()
		reverted, _ := store.Deal(id)
		fmt.Printf("   Reverted: %s stays in %s\n", reverted.Title, reverted.Stage.Title())
		return f.Err
	}

	moved, _ := store.Deal(id)
	fmt.Printf("✓ Moved %s: %s → %s (%d%%)\n", moved.Title, current.Stage.Title(), moved.Stage.Title(), moved.Probability)
	return nil
}

func failedMove(store *pipeline.Store, correlationID string) (pipeline.FailedMove, bool) {
	for _, f := range store.FailedMoves() {
		if f.Command.CorrelationID == correlationID {
			return f, true
		}
	}
	return pipeline.FailedMove{}, false
}

// HistoryCommand prints a deal's stage changes.
func HistoryCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: history <id>")
	}
	id, err := resolveDealID(store, fs.Arg(0))
	if err != nil {
		return err
	}

	changes, err := store.StageHistory(context.Background(), id)
	if err != nil {
		return err
	}

	d, _ := store.Deal(id)
	if len(changes) == 0 {
		fmt.Printf("%s has not changed stage (currently %s)\n", d.Title, d.Stage.Title())
		return nil
	}

	fmt.Printf("Stage history for %s\n\n", d.Title)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tFROM\tTO")
	for _, c := range changes {
		from := "-"
		if c.From != "" {
			from = c.From.Title()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.ChangedAt.Local().Format("2006-01-02 15:04"), from, c.To.Title())
	}
	return w.Flush()
}

// DeleteDealCommand deletes a deal.
func DeleteDealCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: delete <id>")
	}
	id, err := resolveDealID(store, fs.Arg(0))
	if err != nil {
		return err
	}

	if err := store.DeleteDeal(context.Background(), id); err != nil {
		return err
	}

	fmt.Printf("✓ Deleted deal: %s\n", id)
	return nil
}

// InsightCommand selects a deal and prints its insight.
func InsightCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("insight", flag.ExitOnError)
	timeout := fs.Duration("timeout", time.Minute, "Give up after this long")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: insight <id>")
	}
	id, err := resolveDealID(store, fs.Arg(0))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store.SelectDeal(id)
	text, err := store.GenerateAIInsight(ctx, id)
	if err != nil {
		return err
	}

	d, _ := store.Deal(id)
	fmt.Printf("Insight for %s\n\n%s\n", d.Title, text)
	return nil
}

// StaleCommand lists open deals stuck in a stage.
func StaleCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("stale", flag.ExitOnError)
	days := fs.Int("days", 14, "Days in stage to exceed")
	_ = fs.Parse(args)

	deals := store.StaleDeals(*days)
	if len(deals) == 0 {
		fmt.Printf("No deals stuck for %d+ days\n", *days)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TITLE\tSTAGE\tDAYS\tVALUE\tID")
	for _, d := range deals {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%s\n", d.Title, d.Stage.Title(), d.DaysInStage, d.Value, shortID(d.ID))
	}
	return w.Flush()
}

func parseStageFlag(s string) (models.Stage, error) {
	stage, ok := models.ParseStage(strings.ToLower(s))
	if !ok || !stage.HasColumn() {
		return "", fmt.Errorf("%w: %s", pipeline.ErrUnknownStage, s)
	}
	return stage, nil
}

// resolveDealID accepts a full ID or a unique prefix of one.
func resolveDealID(store *pipeline.Store, arg string) (string, error) {
	if _, ok := store.Deal(arg); ok {
		return arg, nil
	}

	var matches []string
	for id := range store.Snapshot().Deals {
		if strings.HasPrefix(id, arg) {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", pipeline.ErrDealNotFound, arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous deal ID %s matches %s", arg, strings.Join(matches, ", "))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
