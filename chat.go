package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/apperr"
	"github.com/KodaTao/linguachat/client"
	"github.com/KodaTao/linguachat/config"
	"github.com/KodaTao/linguachat/conversation"
	"github.com/KodaTao/linguachat/gateway"
	"github.com/KodaTao/linguachat/logger"
	"github.com/KodaTao/linguachat/model"
	"github.com/KodaTao/linguachat/prompt"
	"github.com/KodaTao/linguachat/store"
)

var (
	serverURL  string
	learner    string
	language   string
	difficulty string
	scenarioID string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Practice a conversation in the terminal",
	Long: `Starts an interactive tutor conversation.

Without --server the model provider is called directly (OPENAI_API_KEY is
required). With --server the turns go through a running linguachat server.

Commands inside the chat:
  /end          archive this conversation and start a new one
  /vocab        list learned vocabulary
  /history      list archived conversations
  /corrections  show or hide corrections
  /reset        forget selections and vocabulary (history is kept)
  /quit         leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&serverURL, "server", "", "tutor server URL, e.g. http://localhost:6543")
	chatCmd.Flags().StringVar(&learner, "learner", "local", "learner name the progress is saved under")
	chatCmd.Flags().StringVarP(&language, "language", "l", "es", "target language ("+strings.Join(prompt.Languages(), ", ")+")")
	chatCmd.Flags().StringVarP(&difficulty, "difficulty", "d", string(model.Beginner), "beginner, intermediate or advanced")
	chatCmd.Flags().StringVarP(&scenarioID, "scenario", "s", "cafe", "scenario id")
}

var (
	tutorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	correctionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	vocabStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle        = lipgloss.NewStyle().Faint(true)
)

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New("quiet")
	if err != nil {
		return err
	}
	defer log.Sync()

	sc, ok := prompt.ScenarioByID(scenarioID)
	if !ok {
		return fmt.Errorf("unknown scenario %q", scenarioID)
	}
	if !model.Difficulty(difficulty).Valid() {
		return fmt.Errorf("unknown difficulty %q", difficulty)
	}

	var gw conversation.Gateway
	if serverURL != "" {
		c := client.New(serverURL, cfg.APIKey, cfg.Provider.TimeoutDuration(), log)
		defer c.Close()
		gw = c
	} else {
		direct := gateway.New(cfg.Provider, log)
		if err := direct.Ready(); err != nil {
			return err
		}
		gw = direct
	}

	db, err := model.InitDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	registry := store.NewRegistry(store.NewSQLPersister(db), log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	st, err := registry.Open(ctx, learner)
	if err != nil {
		return err
	}
	defer registry.Release(learner)
	st.Select(model.Selections{Language: language, Difficulty: model.Difficulty(difficulty), Scenario: &sc})

	ctrl := conversation.New(st, gw, conversation.WithLogger(log))
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "%s · %s · %s\n", prompt.LanguageName(language), difficulty, sc.Title)
	fmt.Fprintln(out, dimStyle.Render("type /quit to leave, /end to save and restart"))
	if err := begin(out, ctrl); err != nil {
		return err
	}

	return chatLoop(ctx, cmd.InOrStdin(), out, ctrl, log)
}

func begin(out io.Writer, ctrl *conversation.Controller) error {
	if err := ctrl.Begin(); err != nil {
		return err
	}
	msgs := ctrl.Store().Messages()
	if len(msgs) > 0 {
		fmt.Fprintln(out, tutorStyle.Render("tutor> ")+msgs[len(msgs)-1].Content)
	}
	return nil
}

// chatLoop 逐行读取输入，斜杠开头的是本地命令
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, ctrl *conversation.Controller, log *zap.Logger) error {
	st := ctrl.Store()
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			endConversation(out, ctrl)
			return nil
		case "/end":
			endConversation(out, ctrl)
			if err := begin(out, ctrl); err != nil {
				return err
			}
			continue
		case "/vocab":
			printVocabulary(out, st)
			continue
		case "/history":
			printHistory(out, st)
			continue
		case "/corrections":
			if st.ToggleCorrections() {
				fmt.Fprintln(out, dimStyle.Render("corrections shown"))
			} else {
				fmt.Fprintln(out, dimStyle.Render("corrections hidden"))
			}
			continue
		case "/reset":
			if err := ctrl.Reset(); err != nil {
				fmt.Fprintln(out, errorStyle.Render(apperr.Message(err)))
				continue
			}
			fmt.Fprintln(out, dimStyle.Render("selections and vocabulary cleared, restart to choose again"))
			return nil
		}

		before := len(st.Vocabulary())
		msg, err := ctrl.Send(ctx, line)
		if err != nil {
			log.Debug("turn failed", zap.Error(err))
			fmt.Fprintln(out, errorStyle.Render(apperr.Message(err)))
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		fmt.Fprintln(out, tutorStyle.Render("tutor> ")+msg.Content)
		if st.CorrectionsVisible() {
			for _, c := range msg.Corrections {
				fmt.Fprintln(out, correctionStyle.Render(fmt.Sprintf("  ✎ %s → %s (%s) %s", c.Original, c.Corrected, c.Category, c.Explanation)))
			}
		}
		for _, v := range st.Vocabulary()[before:] {
			fmt.Fprintln(out, vocabStyle.Render(fmt.Sprintf("  + %s: %s", v.Word, v.Translation)))
		}
	}

	endConversation(out, ctrl)
	return scanner.Err()
}

func endConversation(out io.Writer, ctrl *conversation.Controller) {
	entry, saved, err := ctrl.End()
	if err != nil {
		fmt.Fprintln(out, errorStyle.Render(apperr.Message(err)))
		return
	}
	if saved {
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("saved conversation: %d messages, %ds", entry.MessageCount, entry.Duration)))
	}
}

func printVocabulary(out io.Writer, st *store.Store) {
	items := st.SearchVocabulary(store.VocabularyQuery{Sort: store.SortAlphabetical})
	if len(items) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no vocabulary yet"))
		return
	}
	for _, v := range items {
		fmt.Fprintln(out, vocabStyle.Render(fmt.Sprintf("  %s (%s): %s", v.Word, v.Language, v.Translation)))
	}
	stats := st.VocabularyStats()
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d words, %d this week, mostly %s", stats.Total, stats.ThisWeek, prompt.LanguageName(stats.MostPracticedLanguage))))
}

func printHistory(out io.Writer, st *store.Store) {
	hist := st.History()
	if len(hist) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no conversations yet"))
		return
	}
	for _, h := range hist {
		fmt.Fprintf(out, "  %s  %s · %s · %d messages\n", h.EndedAt.Format("2006-01-02 15:04"), prompt.LanguageName(h.Language), h.Scenario.Title, h.MessageCount)
	}
	sum := st.HistorySummary()
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d conversations, %d messages", sum.Conversations, sum.Messages)))
}
