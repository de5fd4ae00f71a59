package dialog

const dialogSystem = `You are an assistant who reads fiction closely and lays out who says what.`

const dialogPrompt = `Turn the text below into a sequence of dialog turns.

For each turn:
- "role": the speaking character. Anything that is not speech belongs to "%[1]s".
  A character's inner thoughts are not narration: use "<name>%[2]s" as the role.
- "content": the words spoken. You may insert the markers [breath], [laughter],
  [cough], [sigh], [quick_breath] or <strong></strong> to shape delivery.
- "speed": speaking rate from 1 (very slow) to 5 (very fast).
- "emo": one word for the main emotion, or empty.
- "instruct": one short phrase for any special tone, or empty.

Answer with a JSON array of objects with exactly these fields and nothing else.

Text:

%[3]s
`

const roleSystem = `You are an assistant who reads fiction closely and catalogues its characters.`

const rolePrompt = `List every character in the text below. For each give:
- "name": the character's name
- "gender": "male" or "female"
- "personality": a one-sentence summary
- "alias": an array of the other ways the narration refers to them before their name is known

Answer with a JSON array only, no other output.

Text:

%s
`

const intervalPrompt = `Below are dialog turns from an audio drama, each with "role" and "content".

%s

For every turn give the pause in seconds before the next one. Interrupted speech
gets 0; ordinary turns are 1 second apart.

Answer with a JSON array only, one object per turn with fields
"role" and "content" (copied from the input) and "interval" (seconds).
`

const cueSystem = `You are a sound designer who scores scenes with fitting ambient effects.`

const cuePrompt = `Add background sound effects to the dialog track of an audio drama.

Effects must never contain a human voice (no laughter, breathing or sighs). They should
bring out the environment or the characters' actions: crowds, footsteps, weather, objects
colliding. Sustained ambience should last under %[1]d seconds; momentary effects 1 second.

Each dialog turn has "role", "content" and its "start" and "end" time in seconds:

%[2]s

Describe each effect in a short plain English sentence about what is heard, without
naming specific people or things from the story.

Answer with a JSON array only. Each object has "audio_desc", "start", "end" (seconds)
and "explaination" (why the effect belongs there).
`

const splitPrompt = `The following %[1]d lines are the opening of a long story. Find the best place
to end the first scene so that each part reads as a self-contained chapter.

%[2]s

Answer with a JSON object only:
{"first": <lines in the first part>, "second": <lines in the rest>, "divide_line": "<the first line of the second part>"}
`
