package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/domain"
	"github.com/devasignhq/contributor-app/internal/service"
)

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorReset = "\033[0m"
)

const (
	taskID  = "task-sync"
	pmID    = "pm"
	devID   = "dev"
	permLen = 8
)

var base = time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)

type Scenario struct {
	Name             string
	ExpectedBehavior string
	Run              func(ctx context.Context) ([]string, error)
}

var (
	flagSeed int64
	flagRuns int
)

var rootCmd = &cobra.Command{
	Use:   "sync_check",
	Short: "Reproduce los escenarios de sincronizacion de la conversacion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := runAll(cmd.Context(), scenarios())
		if failed > 0 {
			return fmt.Errorf("%d scenario(s) failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().Int64Var(&flagSeed, "seed", 1, "semilla de las permutaciones")
	rootCmd.Flags().IntVar(&flagRuns, "runs", 50, "cantidad de permutaciones aleatorias")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runAll(ctx context.Context, list []Scenario) int {
	failed := 0
	for _, sc := range list {
		fmt.Printf("%s[%s]%s %s\n", colorCyan, sc.Name, colorReset, sc.ExpectedBehavior)
		failures, err := sc.Run(ctx)
		if err != nil {
			failures = append(failures, err.Error())
		}
		if len(failures) == 0 {
			fmt.Printf("%s  PASS%s\n", colorGreen, colorReset)
			continue
		}
		failed++
		for _, f := range failures {
			fmt.Printf("%s  FAIL%s %s\n", colorRed, colorReset, f)
		}
	}
	fmt.Printf("==== %d/%d escenarios OK ====\n", len(list)-failed, len(list))
	return failed
}

func scenarios() []Scenario {
	return []Scenario{
		{Name: "Escenario A", ExpectedBehavior: "un mensaje vivo anterior al historial queda primero", Run: scenarioLateDelivery},
		{Name: "Escenario B", ExpectedBehavior: "2.5 WEEK se lee como 2 week(s) 5 day(s)", Run: scenarioTimelineFormat},
		{Name: "Escenario C", ExpectedBehavior: "un rechazo no toca el timeline y se muestra como rechazo", Run: scenarioRejected},
		{Name: "Escenario D", ExpectedBehavior: "el mismo id por historial y listener queda una sola vez", Run: scenarioDuplicate},
		{Name: "Escenario E", ExpectedBehavior: "7 dias atras usa la fecha absoluta con ordinal", Run: scenarioDateLabel},
		{Name: "Escenario F", ExpectedBehavior: "una aceptacion proyecta el timeline una sola vez", Run: scenarioAccepted},
		{Name: "Permutaciones", ExpectedBehavior: "cualquier orden de llegada converge a la misma lista", Run: scenarioPermutations},
	}
}

// conversationFor arranca una conversacion del dev contra el backend en memoria.
func conversationFor(ctx context.Context, backend *memoryBackend, mutator service.TimelineMutator) (*service.Conversation, error) {
	conv, err := service.NewConversation(service.ConversationParams{
		TaskID:         taskID,
		CounterpartyID: pmID,
		ViewerID:       devID,
		Backend:        backend,
		Mutator:        mutator,
		Logger:         zap.NewNop(),
		Location:       time.UTC,
		Now:            func() time.Time { return base.Add(24 * time.Hour) },
	})
	if err != nil {
		return nil, err
	}
	if err := conv.Start(ctx); err != nil {
		return nil, err
	}
	return conv, nil
}

func message(id, author string, minute int) domain.Message {
	at := base.Add(time.Duration(minute) * time.Minute)
	return domain.Message{
		ID:        id,
		UserID:    author,
		TaskID:    taskID,
		Kind:      domain.MessageKindGeneral,
		Body:      "body " + id,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func timelineMessage(id, author string, minute int, magnitude float64, outcome domain.Outcome) domain.Message {
	m := message(id, author, minute)
	m.Kind = domain.MessageKindTimelineRequest
	m.Body = ""
	m.Metadata = &domain.MessageMetadata{
		RequestedTimeline: magnitude,
		TimelineUnit:      domain.TimelineUnitWeek,
		Outcome:           outcome,
	}
	return m
}

func newBoard() *service.TaskBoard {
	accepted := base.Add(-48 * time.Hour)
	board := service.NewTaskBoard(&memoryTasks{}, nil, zap.NewNop())
	board.Put(domain.Task{
		ID:            taskID,
		CreatorID:     pmID,
		ContributorID: devID,
		Timeline:      domain.Timeline{Magnitude: 1, Unit: domain.TimelineUnitWeek},
		AcceptedAt:    &accepted,
	})
	return board
}

func scenarioLateDelivery(ctx context.Context) ([]string, error) {
	backend := newMemoryBackend(base.Add(time.Hour), message("m1", pmID, 10))
	conv, err := conversationFor(ctx, backend, nil)
	if err != nil {
		return nil, err
	}
	defer conv.Close()

	if err := backend.deliver(pmID, message("m2", pmID, 5)); err != nil {
		return nil, err
	}
	return collectFailures(judgeOrder(conv.Messages(), "m2", "m1")), nil
}

func scenarioTimelineFormat(ctx context.Context) ([]string, error) {
	tl := domain.Timeline{Magnitude: 2.5, Unit: domain.TimelineUnitWeek}
	days, err := tl.TotalDays()
	if err != nil {
		return nil, err
	}
	return collectFailures(
		judgeEqual("format", tl.Format(), "2 week(s) 5 day(s)"),
		judgeEqual("total days", days, 19),
	), nil
}

func scenarioRejected(ctx context.Context) ([]string, error) {
	board := newBoard()
	mutator := &countingMutator{next: board}
	backend := newMemoryBackend(base.Add(time.Hour), timelineMessage("req", devID, 1, 2.5, domain.OutcomePending))
	conv, err := conversationFor(ctx, backend, mutator)
	if err != nil {
		return nil, err
	}
	defer conv.Close()

	rejection := timelineMessage("rej", pmID, 2, 2.5, domain.OutcomeRejected)
	if err := backend.deliver(pmID, rejection); err != nil {
		return nil, err
	}
	task, err := board.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return collectFailures(
		judgeEqual("mutations", mutator.count(), 0),
		judgeEqual("timeline", task.Timeline, domain.Timeline{Magnitude: 1, Unit: domain.TimelineUnitWeek}),
		judgeEqual("notice", service.DescribeNegotiation(rejection, devID), "Your 2.5 week(s) extension request was rejected."),
	), nil
}

func scenarioDuplicate(ctx context.Context) ([]string, error) {
	backend := newMemoryBackend(base.Add(time.Hour), message("m1", pmID, 1))
	conv, err := conversationFor(ctx, backend, nil)
	if err != nil {
		return nil, err
	}
	defer conv.Close()

	if err := backend.deliver(pmID, message("m1", pmID, 1)); err != nil {
		return nil, err
	}
	return collectFailures(
		judgeSingleCopies(conv.Messages()),
		judgeEqual("messages", len(conv.Messages()), 1),
	), nil
}

func scenarioDateLabel(ctx context.Context) ([]string, error) {
	eleventh := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	twentySecond := time.Date(2025, 3, 22, 9, 0, 0, 0, time.UTC)
	return collectFailures(
		judgeEqual("11th", service.DateLabel(eleventh, eleventh.AddDate(0, 0, 7), time.UTC), "11th March 2025"),
		judgeEqual("22nd", service.DateLabel(twentySecond, twentySecond.AddDate(0, 0, 7), time.UTC), "22nd March 2025"),
		judgeEqual("6 days", service.DateLabel(eleventh, eleventh.AddDate(0, 0, 6), time.UTC), eleventh.Weekday().String()),
	), nil
}

func scenarioAccepted(ctx context.Context) ([]string, error) {
	board := newBoard()
	mutator := &countingMutator{next: board}
	backend := newMemoryBackend(base.Add(time.Hour), timelineMessage("req", devID, 1, 2.5, domain.OutcomePending))
	conv, err := conversationFor(ctx, backend, mutator)
	if err != nil {
		return nil, err
	}
	defer conv.Close()

	accepted := timelineMessage("acc", pmID, 2, 2.5, domain.OutcomeAccepted)
	if err := backend.deliver(pmID, accepted); err != nil {
		return nil, err
	}
	if err := backend.deliver(pmID, accepted); err != nil {
		return nil, err
	}
	task, err := board.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return collectFailures(
		judgeEqual("mutations", mutator.count(), 1),
		judgeEqual("timeline", task.Timeline, domain.Timeline{Magnitude: 2.5, Unit: domain.TimelineUnitWeek}),
	), nil
}

func scenarioPermutations(ctx context.Context) ([]string, error) {
	var failures []string
	for run := 0; run < flagRuns; run++ {
		rng := rand.New(rand.NewSource(flagSeed + int64(run)))
		f, err := permutationRun(ctx, rng)
		if err != nil {
			return failures, err
		}
		for _, msg := range f {
			failures = append(failures, fmt.Sprintf("run %d: %s", run, msg))
		}
	}
	return failures, nil
}

// permutationRun reparte permLen mensajes entre historial y lotes vivos en orden
// aleatorio, con reentregas, y verifica que la lista final sea la misma.
func permutationRun(ctx context.Context, rng *rand.Rand) ([]string, error) {
	all := make([]domain.Message, permLen)
	want := make([]string, permLen)
	for i := range all {
		author := pmID
		if i%2 == 1 {
			author = devID
		}
		all[i] = message(fmt.Sprintf("p%d", i), author, i)
		want[i] = all[i].ID
	}

	shuffled := append([]domain.Message(nil), all...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	split := rng.Intn(len(shuffled) + 1)

	backend := newMemoryBackend(base.Add(time.Hour), shuffled[:split]...)
	conv, err := conversationFor(ctx, backend, nil)
	if err != nil {
		return nil, err
	}
	defer conv.Close()

	live := shuffled[split:]
	for len(live) > 0 {
		n := 1 + rng.Intn(len(live))
		batch := live[:n]
		live = live[n:]
		byAuthor := map[string][]domain.Message{}
		for _, m := range batch {
			byAuthor[m.UserID] = append(byAuthor[m.UserID], m)
		}
		for author, msgs := range byAuthor {
			if err := backend.deliver(author, msgs...); err != nil {
				return nil, err
			}
		}
		// Reentrega de algo ya visto.
		if rng.Intn(2) == 0 {
			again := all[rng.Intn(len(all))]
			if err := backend.deliver(again.UserID, again); err != nil {
				return nil, err
			}
		}
	}

	got := conv.Messages()
	return collectFailures(
		judgeSingleCopies(got),
		judgeSorted(got),
		judgeOrder(got, want...),
	), nil
}
