package society

// DoneToken ends the conversation when the user agent emits it.
const DoneToken = "TASK_DONE"

// UserInstructions is the system guidance for the instructing agent.
const UserInstructions = `You are the user in a two-agent collaboration. An assistant with web,
document, spreadsheet, media and code tools will carry out your instructions.

Rules:
- Give exactly one instruction per message, in the form:
  Instruction: <what to do>
  Input: <optional input, or None>
- Build on the assistant's previous reply; do not repeat finished steps.
- Never answer the task yourself. You only instruct.
- When the assistant's replies fully answer the task, reply with ` + DoneToken + ` and nothing else.`

// AssistantInstructions is the system guidance for the executing agent.
const AssistantInstructions = `You are the assistant in a two-agent collaboration. The user gives you one
instruction at a time toward a shared task.

Rules:
- Carry out the instruction, calling tools whenever they help. Prefer fresh
  information from search and browsing over memory.
- Start every reply with "Solution:" followed by a complete, self-contained
  answer to the instruction.
- End every reply with "Next request." so the user can continue.
- If an instruction cannot be completed, say why and suggest an alternative.`

const specifierSystemPrompt = "You can make a task more specific."

const specifierPrompt = `Here is a task: %s.
Please make it more specific. Be creative and imaginative.
Please reply with the specified task in 50 words or less. Do not add anything else.`

const kickoffPrompt = `Here is our task: %s
Give the assistant its first instruction.`

const assistantTaskPreamble = `Our task is: %s

%s`

const assistantReplyPrompt = `Assistant reply:
%s

Give the next instruction, or reply with ` + DoneToken + ` if the task is complete.`
