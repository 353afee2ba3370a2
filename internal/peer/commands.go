package peer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/keisueke/show-discord/internal/services"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("wrong arguments")
)

const Help = `commands:
  start              start the game (admin)
  rounds <n>         set the number of rounds (admin)
  admin <player id>  hand the admin role to another player (admin)
  pick <n>           choose question candidate n (questioner)
  target <player>    choose who a personal question is about, by id or table row (questioner)
  answer <number>    submit or change your answer
  reveal             reveal now without waiting for everyone (admin)
  next               continue after the reveal (admin)
  lobby              back to the lobby, keeping settings (admin)
  reset              back to the lobby with default settings (admin)
  help               show this list`

// Exec runs one typed command line against coord.
func Exec(coord *services.Coordinator, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "start":
		return coord.StartGame()
	case "rounds":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		settings := coord.View().Settings
		settings.MaxRounds = n
		return coord.UpdateSettings(settings)
	case "admin":
		if len(args) != 1 {
			return fmt.Errorf("%w: admin <player id>", ErrUsage)
		}
		return coord.TransferAdmin(args[0])
	case "pick":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		candidates := coord.View().QuestionCandidates
		if n < 1 || n > len(candidates) {
			return fmt.Errorf("%w: pick 1-%d", ErrUsage, len(candidates))
		}
		return coord.SelectQuestion(candidates[n-1])
	case "target":
		if len(args) != 1 {
			return fmt.Errorf("%w: target <player>", ErrUsage)
		}
		return coord.SelectPlayerForQuestion(resolvePlayer(coord.View(), args[0]))
	case "answer":
		if len(args) != 1 {
			return fmt.Errorf("%w: answer <number>", ErrUsage)
		}
		value, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrUsage, args[0])
		}
		return coord.SubmitAnswer(value)
	case "reveal":
		return coord.ForceStartReveal()
	case "next":
		return coord.NextRound()
	case "lobby":
		return coord.BackToLobby()
	case "reset":
		return coord.ResetSession()
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
}

// resolvePlayer accepts a player id or a 1-based row of the player table.
func resolvePlayer(v services.View, arg string) string {
	for _, p := range v.Players {
		if p.ID == arg {
			return arg
		}
	}
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(v.Players) {
		return v.Players[n-1].ID
	}
	return arg
}

func intArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected one number", ErrUsage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number", ErrUsage, args[0])
	}
	return n, nil
}
