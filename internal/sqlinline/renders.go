package sqlinline

// QIncrementRenderDaily adds the given deltas to today's render counters.
const QIncrementRenderDaily = `--sql 3c1f4b0e-92d6-4e0b-a8a4-6f2c1de07b55
insert into render_daily (
    day, renders_total, renders_succeeded, renders_failed, renders_repaired,
    generation_errors, artifact_missing, dev_runs, created_at, updated_at
) values (
    $1::date, $2, $3, $4, $5, $6, $7, $8, now(), now()
) on conflict (day) do update set
    renders_total = render_daily.renders_total + excluded.renders_total,
    renders_succeeded = render_daily.renders_succeeded + excluded.renders_succeeded,
    renders_failed = render_daily.renders_failed + excluded.renders_failed,
    renders_repaired = render_daily.renders_repaired + excluded.renders_repaired,
    generation_errors = render_daily.generation_errors + excluded.generation_errors,
    artifact_missing = render_daily.artifact_missing + excluded.artifact_missing,
    dev_runs = render_daily.dev_runs + excluded.dev_runs,
    updated_at = now();
`

// QSelectRenderDaily lists the most recent days of render counters.
const QSelectRenderDaily = `--sql 9b7e2d61-5a0c-4f3e-b1d8-2e4c7a9f6b13
select day, renders_total, renders_succeeded, renders_failed, renders_repaired,
       generation_errors, artifact_missing, dev_runs
from render_daily
order by day desc
limit $1;
`
