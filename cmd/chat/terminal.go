package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"chat-sync/domain"
	"chat-sync/services"
	"chat-sync/store"
)

// terminal renders the chat mirror to stdout and doubles as the
// notification sink for dispatch outcomes.
type terminal struct {
	mu      sync.Mutex
	printed map[domain.ChannelID]int
}

func newTerminal() *terminal {
	return &terminal{printed: make(map[domain.ChannelID]int)}
}

func (t *terminal) Success(text string) { color.Green.Println(text) }
func (t *terminal) Failure(text string) { color.Red.Println(text) }

// renderLoop prints messages of the selected channel as the mirror
// changes. The store coalesces bursts, so each wakeup drains whatever
// arrived since the last one.
func (t *terminal) renderLoop(ctx context.Context, svc *services.ChatService) {
	st := svc.Store()
	for {
		select {
		case <-ctx.Done():
			return
		case <-st.Updated():
			t.renderNew(st)
		}
	}
}

func (t *terminal) renderNew(st *store.ChatStore) {
	selected := st.Selection()
	if selected == 0 {
		return
	}
	messages := st.Messages(selected)

	t.mu.Lock()
	defer t.mu.Unlock()
	seen := t.printed[selected]
	if seen > len(messages) {
		// Snapshot reload shrank the channel; replay from the top.
		seen = 0
	}
	for _, m := range messages[seen:] {
		t.printMessage(m)
	}
	t.printed[selected] = len(messages)
}

// resetChannel forces a full replay on the next render, used after an
// explicit channel switch.
func (t *terminal) resetChannel(id domain.ChannelID) {
	t.mu.Lock()
	t.printed[id] = 0
	t.mu.Unlock()
}

func (t *terminal) printMessage(m domain.Message) {
	fmt.Printf("%s %s\n", color.Cyan.Sprintf("%s:", m.Username), m.Body)
}

func (t *terminal) printChannels(st *store.ChatStore) {
	selected := st.Selection()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"", "ID", "Name", "Messages"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, c := range st.Channels() {
		marker := ""
		if c.ID == selected {
			marker = "*"
		}
		table.Append([]string{
			marker,
			strconv.Itoa(int(c.ID)),
			"#" + c.Name,
			strconv.Itoa(len(st.Messages(c.ID))),
		})
	}
	table.Render()
}

func (t *terminal) printResults(messages []domain.Message) {
	if len(messages) == 0 {
		color.Gray.Println("No matches")
		return
	}
	for _, m := range messages {
		fmt.Printf("%s %s %s\n",
			color.Gray.Sprintf("[#%d]", m.ChannelID),
			color.Cyan.Sprintf("%s:", m.Username),
			m.Body)
	}
}

func (t *terminal) printHelp() {
	color.Gray.Println(`Commands:
  /login <user> <password>   authenticate and load the chat
  /logout                    drop the session
  /channels                  list channels (* marks selection)
  /select <id>               switch channel
  /create <name>             create a channel
  /rename <id> <name>        rename a channel
  /remove <id>               remove a channel
  /find <terms>              search cached messages (--channel N, --limit N)
  /history                   replay the offline cache for this channel
  /quit                      exit
Anything else is sent to the selected channel.`)
}
