package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/app"
	"github.com/devasignhq/contributor-app/internal/config"
	"github.com/devasignhq/contributor-app/internal/domain"
	"github.com/devasignhq/contributor-app/internal/service"
)

const (
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorReset = "\033[0m"
)

var (
	flagTask   string
	flagViewer string
	flagOrder  string
)

var rootCmd = &cobra.Command{
	Use:   "cli_chat",
	Short: "Conversacion de una tarea en la terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Emite un access token de desarrollo para --viewer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		token, err := service.NewJWTService(cfg.JWTSecret, cfg.JWTAccessTTL()).IssueAccessToken(flagViewer)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagViewer, "viewer", "", "id del usuario que mira la conversacion")
	rootCmd.Flags().StringVar(&flagTask, "task", "", "id de la tarea")
	rootCmd.Flags().StringVar(&flagOrder, "order", "", "orden de los grupos de dia (asc|desc)")
	_ = rootCmd.MarkPersistentFlagRequired("viewer")
	_ = rootCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runChat(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if flagOrder != "" {
		cfg.GroupOrder = flagOrder
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	svcs, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svcs.Close()

	conv, err := svcs.Registry.Open(ctx, flagViewer, flagTask)
	if err != nil {
		return fmt.Errorf("abrir conversacion: %w", err)
	}

	printTimeline(conv)
	events, cancel := conv.Watch()
	defer cancel()
	go printEvents(conv, events)

	fmt.Println("---- Modo Chat ('/ayuda' para comandos, '/salir' para terminar) ----")
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Tu > ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := conv.Send(ctx, service.SendInput{Body: line}); err != nil {
				fmt.Printf("Error enviando: %v\n", err)
			}
			continue
		}
		if done := runCommand(ctx, svcs, conv, line); done {
			return nil
		}
	}
}

func runCommand(ctx context.Context, svcs *app.Services, conv *service.Conversation, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/salir":
		return true
	case "/ayuda":
		fmt.Println("/ver                         muestra la conversacion agrupada por dia")
		fmt.Println("/leer <id>                   marca un mensaje como visto")
		fmt.Println("/plazo                       tiempo restante de la tarea")
		fmt.Println("/extender <n> <WEEK|DAY> [motivo]")
		fmt.Println("/aceptar <n> <WEEK|DAY>")
		fmt.Println("/rechazar <n> <WEEK|DAY> [motivo]")
	case "/ver":
		printTimeline(conv)
	case "/leer":
		if len(fields) < 2 {
			fmt.Println("Uso: /leer <id>")
			return false
		}
		if err := conv.MessageVisible(ctx, fields[1], 1); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	case "/plazo":
		left, err := svcs.Board.TimeLeft(ctx, conv.TaskID(), time.Now())
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		fmt.Printf("Plazo: %s\n", left.Formatted)
	case "/extender", "/aceptar", "/rechazar":
		in, err := timelineInput(fields)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return false
		}
		if _, err := conv.Send(ctx, in); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	default:
		fmt.Println("Comando invalido.")
	}
	return false
}

func timelineInput(fields []string) (service.SendInput, error) {
	if len(fields) < 3 {
		return service.SendInput{}, fmt.Errorf("uso: %s <n> <WEEK|DAY>", fields[0])
	}
	magnitude, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return service.SendInput{}, fmt.Errorf("magnitud invalida %q", fields[1])
	}
	meta := &domain.MessageMetadata{
		RequestedTimeline: magnitude,
		TimelineUnit:      domain.TimelineUnit(strings.ToUpper(fields[2])),
		Reason:            strings.Join(fields[3:], " "),
	}
	switch fields[0] {
	case "/aceptar":
		meta.Outcome = domain.OutcomeAccepted
	case "/rechazar":
		meta.Outcome = domain.OutcomeRejected
	}
	return service.SendInput{Kind: domain.MessageKindTimelineRequest, Metadata: meta}, nil
}

func printTimeline(conv *service.Conversation) {
	for _, group := range conv.VisibleTimeline() {
		fmt.Printf("%s== %s ==%s\n", colorCyan, group.Label, colorReset)
		for _, m := range group.Messages {
			printMessage(conv, m)
		}
	}
	fmt.Printf("(%d sin leer)\n", conv.UnreadCount())
}

func printMessage(conv *service.Conversation, m domain.Message) {
	who := m.UserID
	color := colorReset
	if m.AuthoredBy(conv.ViewerID()) {
		who = "Tu"
		color = colorGreen
	}
	text := service.DescribeNegotiation(m, conv.ViewerID())
	fmt.Printf("%s[%s %s]%s %s  (%s)\n", color, m.CreatedAt.Local().Format("15:04"), who, colorReset, text, m.ID)
}

func printEvents(conv *service.Conversation, events <-chan service.MergeEvent) {
	for ev := range events {
		switch ev.Kind {
		case service.EventMerged:
			for _, m := range ev.Messages {
				if !m.AuthoredBy(conv.ViewerID()) {
					fmt.Println()
					printMessage(conv, m)
				}
			}
		case service.EventTimelineAccepted:
			if ev.Negotiation == nil {
				continue
			}
			fmt.Printf("\n%s* plazo actualizado: %s%s\n", colorCyan, ev.Negotiation.Timeline.Format(), colorReset)
		case service.EventListenerFailed, service.EventLoadFailed:
			log.Printf("conversacion: %s", ev.Error)
		}
	}
}
