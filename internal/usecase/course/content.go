package course

// Lesson copy is maintained by the content team; these are the structural
// English fallbacks.
var lessons = map[int]string{
	1: "Day 1 — Money Flow Awareness\n\nToday you map every source of income and every fixed expense.\nWrite down the three payments you make most often.\n\nWhen you are done, send /done 1.",
	2: "Day 2 — Finding Leaks\n\nGo through yesterday's list and mark everything you did not plan to spend.\nSubscriptions count, even small ones.\n\nWhen you are done, send /done 2.",
	3: "Day 3 — Convenience Spending\n\nTrack every convenience purchase today: delivery, snacks, transport you could skip.\nTotal them up tonight.\n\nWhen you are done, send /done 3.",
	4: "Day 4 — The 24-Hour Rule\n\nFor every non-essential purchase today, wait 24 hours before paying.\nNote how many survive the wait.\n\nWhen you are done, send /done 4.",
	5: "Day 5 — Income Mapping\n\nList every way money comes in, and one realistic way to add a new stream.\n\nWhen you are done, send /done 5.",
	6: "Day 6 — Your Savings Plan\n\nPick a fixed percentage of income to move to savings on payday, before anything else.\n\nWhen you are done, send /done 6.",
	7: "Day 7 — The System\n\nPut it together: one page with your income, fixed costs, leak list and savings rule.\nThis page is your money flow system.\n\nWhen you are done, send /done 7.",
}
